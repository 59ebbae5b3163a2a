package app

import (
	"net/http"

	"casemark/api/internal/casegraph"
)

// handleNode dispatches the element collections: goals, contexts, strategies,
// property_claims and evidence all share one route shape.
func (s *HTTPServer) handleNode(w http.ResponseWriter, r *http.Request, session Session, kind casegraph.Kind, parts []string) {
	if len(parts) == 1 {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var input NodeInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		var (
			payload map[string]any
			err     error
		)
		switch kind {
		case casegraph.KindGoal:
			payload, err = s.service.CreateGoal(r.Context(), session, input)
		case casegraph.KindContext:
			payload, err = s.service.CreateContext(r.Context(), session, input)
		case casegraph.KindStrategy:
			payload, err = s.service.CreateStrategy(r.Context(), session, input)
		case casegraph.KindPropertyClaim:
			payload, err = s.service.CreateClaim(r.Context(), session, input)
		case casegraph.KindEvidence:
			payload, err = s.service.CreateEvidence(r.Context(), session, input)
		}
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	id := parts[1]

	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetNode(r.Context(), session, kind, id)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPut:
			var patch NodePatch
			if err := decodeBody(r, &patch); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateNode(r.Context(), session, kind, id, patch)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodDelete:
			if err := s.service.DeleteNode(r.Context(), session, kind, id); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) != 3 || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	var info ParentInfo
	if err := decodeBody(r, &info); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	var (
		payload map[string]any
		err     error
	)
	switch parts[2] {
	case "detach":
		payload, err = s.service.DetachNode(r.Context(), session, kind, id, info)
	case "attach":
		payload, err = s.service.AttachNode(r.Context(), session, kind, id, info)
	case "set_parent":
		if kind != casegraph.KindPropertyClaim {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		payload, err = s.service.SetClaimParent(r.Context(), session, id, info)
	case "link":
		if kind != casegraph.KindEvidence {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		payload, err = s.service.LinkEvidence(r.Context(), session, id, info.PropertyClaimID)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}
