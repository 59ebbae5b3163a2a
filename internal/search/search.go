package search

// CaseRecord is the data indexed for an assurance case.
type CaseRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	OwnerID     string `json:"owner_id"`
	Published   bool   `json:"published"`
}

// Hit is a single search result before permission filtering.
type Hit struct {
	CaseID      string  `json:"case_id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Snippet     string  `json:"snippet,omitempty"`
	Score       float64 `json:"score,omitempty"`
}

// Backend can execute a case search.
type Backend interface {
	Search(query string, limit int) ([]Hit, error)
	Healthy() bool
}
