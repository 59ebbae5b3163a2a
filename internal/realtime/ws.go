package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"casemark/api/internal/app"
	"casemark/api/internal/store"
	"casemark/api/internal/util"
)

const writeTimeout = 5 * time.Second

// CaseGate admits subscribers. A subscriber must present a valid token and
// hold at least view permission on the case.
type CaseGate interface {
	SessionFromToken(ctx context.Context, token string) (app.Session, error)
	CanReadCase(ctx context.Context, session app.Session, caseID string) error
}

// ConnectionStore persists who is currently connected to which case, so
// presence survives a restart of a single API instance.
type ConnectionStore interface {
	SaveConnectionRecord(ctx context.Context, rec store.ConnectionRecord) error
	DeleteConnectionRecord(ctx context.Context, channelKey string) error
	ListConnectionRecords(ctx context.Context, caseID string) ([]store.ConnectionRecord, error)
}

// Server upgrades websocket connections on /ws/case/{id}/ and bridges them
// onto the hub.
type Server struct {
	hub            *Hub
	gate           CaseGate
	conns          ConnectionStore
	originPatterns []string
	debugBypass    bool
}

func NewServer(hub *Hub, gate CaseGate, conns ConnectionStore, originPatterns []string, debugBypass bool) *Server {
	return &Server{
		hub:            hub,
		gate:           gate,
		conns:          conns,
		originPatterns: originPatterns,
		debugBypass:    debugBypass,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	caseID := caseIDFromPath(r.URL.Path)
	if caseID == "" {
		http.NotFound(w, r)
		return
	}

	token := r.URL.Query().Get("token")
	session, err := s.gate.SessionFromToken(r.Context(), token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	if err := s.gate.CanReadCase(r.Context(), session, caseID); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	opts := &websocket.AcceptOptions{
		OriginPatterns:     s.originPatterns,
		InsecureSkipVerify: s.debugBypass,
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}

	s.serve(r.Context(), conn, session, caseID)
}

func (s *Server) serve(ctx context.Context, conn *websocket.Conn, session app.Session, caseID string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	channelKey := util.NewID("ch")
	record := store.ConnectionRecord{
		ChannelKey: channelKey,
		UserID:     session.UserID,
		UserName:   session.UserName,
		CaseID:     caseID,
		Since:      time.Now().UTC(),
	}
	if err := s.conns.SaveConnectionRecord(ctx, record); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "presence unavailable")
		return
	}

	sub := s.hub.Subscribe(caseID, channelKey)
	defer func() {
		s.hub.Unsubscribe(caseID, channelKey)
		cleanupCtx, cancelCleanup := context.WithTimeout(context.Background(), writeTimeout)
		defer cancelCleanup()
		_ = s.conns.DeleteConnectionRecord(cleanupCtx, channelKey)
		s.broadcastPresence(cleanupCtx, caseID)
	}()

	s.broadcastPresence(ctx, caseID)

	// Messages written only to this subscriber, merged with the topic stream
	// by the write loop below.
	direct := make(chan any, 4)
	readErr := make(chan error, 1)
	go s.readLoop(ctx, conn, session, caseID, channelKey, direct, readErr)

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case msg := <-direct:
			if !s.write(ctx, conn, msg) {
				return
			}
		case msg, ok := <-sub:
			if !ok {
				_ = conn.Close(websocket.StatusPolicyViolation, "subscriber lagged")
				return
			}
			if !s.write(ctx, conn, msg) {
				return
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, msg any) bool {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, conn, msg); err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "write failed")
		return false
	}
	return true
}

// readLoop consumes client messages. Pings are dropped, advisory element
// locks and free text are re-broadcast to the other subscribers, and
// unparseable payloads earn the sender a private error message.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, session app.Session, caseID, channelKey string, direct chan<- any, readErr chan<- error) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			readErr <- err
			return
		}

		var incoming map[string]any
		if err := json.Unmarshal(data, &incoming); err != nil {
			direct <- map[string]any{
				"type":     "error",
				"content":  "ERROR: Could not parse the message",
				"datetime": time.Now().UTC().Format(time.RFC3339),
			}
			continue
		}

		if _, ok := incoming["element_lock"]; ok {
			s.hub.PublishExcept(caseID, map[string]any{
				"type":     "element_lock",
				"content":  incoming,
				"username": session.UserName,
				"id":       session.UserID,
				"datetime": time.Now().UTC().Format(time.RFC3339),
			}, channelKey)
			continue
		}

		content, ok := incoming["content"]
		if !ok {
			direct <- map[string]any{
				"type":     "error",
				"content":  "ERROR: Could not parse the message",
				"datetime": time.Now().UTC().Format(time.RFC3339),
			}
			continue
		}
		if text, isString := content.(string); isString && text == "ping" {
			continue
		}

		s.hub.PublishExcept(caseID, map[string]any{
			"type":     "case_message",
			"content":  content,
			"username": session.UserName,
			"id":       session.UserID,
			"datetime": time.Now().UTC().Format(time.RFC3339),
		}, channelKey)
	}
}

// broadcastPresence sends the current subscriber list to everyone on the
// topic, the joiner included.
func (s *Server) broadcastPresence(ctx context.Context, caseID string) {
	records, err := s.conns.ListConnectionRecords(ctx, caseID)
	if err != nil {
		return
	}
	connections := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		connections = append(connections, map[string]any{
			"user":  rec.UserName,
			"since": rec.Since.UTC().Format(time.RFC3339),
		})
	}
	s.hub.Broadcast(caseID, map[string]any{
		"type":     "case_message",
		"content":  map[string]any{"current_connections": connections},
		"datetime": time.Now().UTC().Format(time.RFC3339),
	})
}

func caseIDFromPath(path string) string {
	rest, ok := strings.CutPrefix(path, "/ws/case/")
	if !ok {
		return ""
	}
	rest = strings.TrimSuffix(rest, "/")
	if rest == "" || strings.Contains(rest, "/") {
		return ""
	}
	return rest
}
