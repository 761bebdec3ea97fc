package model

// QueryType categorizes a panel question by search intent.
type QueryType string

const (
	QueryTypeBranded     QueryType = "branded"
	QueryTypeCategory    QueryType = "category"
	QueryTypeComparison  QueryType = "comparison"
	QueryTypeLocal       QueryType = "local"
	QueryTypeFAQ         QueryType = "faq"
	QueryTypeVoiceSearch QueryType = "voice_search"
)

// ValidQueryType reports whether t is a known query type.
func ValidQueryType(t QueryType) bool {
	switch t {
	case QueryTypeBranded, QueryTypeCategory, QueryTypeComparison,
		QueryTypeLocal, QueryTypeFAQ, QueryTypeVoiceSearch:
		return true
	}
	return false
}

// Query is one natural-language question in a property's audit panel.
// Queries are immutable once scored against.
type Query struct {
	ID         string    `json:"id"`
	PropertyID string    `json:"property_id"`
	Text       string    `json:"text"`
	Type       QueryType `json:"type"`
	Geo        string    `json:"geo,omitempty"`
	Weight     float64   `json:"weight"`
	IsActive   bool      `json:"is_active"`
}
