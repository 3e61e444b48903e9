package models

// SearchResult is a single ranked hit.
type SearchResult struct {
	ID         string   `json:"id"`
	Similarity float64  `json:"similarity"`
	Metadata   Metadata `json:"metadata"`
}

// SearchResponse is the response for a search-similar request.
type SearchResponse struct {
	Results []*SearchResult `json:"results"`
	Model   string          `json:"model"`
	// QueryID is the id under which the query image's own embedding was stored.
	QueryID   string `json:"query_id,omitempty"`
	QueryTime int64  `json:"query_time_ms"`
}

// ExtractResponse is the response for an extract-features request.
type ExtractResponse struct {
	Success   bool   `json:"success"`
	FeatureID string `json:"feature_id"`
	Model     string `json:"model"`
}
