package model

// Metadata is the bibliographic record of a paper
type Metadata struct {
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Authors []string `json:"authors"`
}

// SearchResult is one entry of a search feed
type SearchResult struct {
	ID        string   `json:"id"` // e.g. "1706.03762v5"
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	Authors   []string `json:"authors"`
	Published string   `json:"published"`
}
