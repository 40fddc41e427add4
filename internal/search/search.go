package search

// ResultType identifies which roster collection a hit came from.
type ResultType string

const (
	ResultMember  ResultType = "member"
	ResultRequest ResultType = "request"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	Barangay string     `json:"barangay"`
	Points   int        `json:"points,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = both collections
	Barangay   string
	Limit      int
	Offset     int
}

// Response is the envelope returned to the console.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	// Source is "meilisearch" or "local".
	Source string `json:"source"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// MemberRecord is the data we index for a member.
type MemberRecord struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Barangay string `json:"barangay"`
	Points   int    `json:"points"`
}

// RequestRecord is the data we index for a pending registration request.
type RequestRecord struct {
	ID        string `json:"id"`
	SubjectID string `json:"subjectId"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Barangay  string `json:"barangay"`
}
