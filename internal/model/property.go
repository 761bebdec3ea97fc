package model

import "time"

// Property is the audited brand: a rental property whose representation in
// answer-engine output is tracked over time.
type Property struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Domains     []string  `json:"domains"`
	Competitors []string  `json:"competitors"`
	City        string    `json:"city,omitempty"`
	State       string    `json:"state,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// BrandContext is the brand-side input every connector invocation carries.
type BrandContext struct {
	BrandName         string   `json:"brand_name"`
	BrandDomains      []string `json:"brand_domains"`
	CompetitorDomains []string `json:"competitor_domains"`
	City              string   `json:"city,omitempty"`
	State             string   `json:"state,omitempty"`
}

// Context builds the BrandContext passed to connectors for this property.
func (p Property) Context() BrandContext {
	return BrandContext{
		BrandName:         p.Name,
		BrandDomains:      p.Domains,
		CompetitorDomains: p.Competitors,
		City:              p.City,
		State:             p.State,
	}
}
