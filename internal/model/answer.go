package model

// AnswerEntity is one ranked item in an answer. Position 1 is the most
// prominent mention.
type AnswerEntity struct {
	Name      string `json:"name"`
	Domain    string `json:"domain,omitempty"`
	Position  int    `json:"position"`
	Rationale string `json:"rationale,omitempty"`
}

// Citation is a source the answer points at. EntityRef links it to an
// AnswerEntity by name when a match was found.
type Citation struct {
	URL           string `json:"url"`
	Domain        string `json:"domain"`
	IsBrandDomain bool   `json:"is_brand_domain"`
	EntityRef     string `json:"entity_ref,omitempty"`
}

// SearchSource is one web-search result a provider consulted while
// answering. Only surfaces with web search populate these.
type SearchSource struct {
	URL    string `json:"url"`
	Domain string `json:"domain"`
	Title  string `json:"title"`
}

// NaturalResponse is the phase-1 output of a natural-mode connector: the
// raw answer text plus the search sources that informed it.
type NaturalResponse struct {
	Text          string         `json:"text"`
	SearchSources []SearchSource `json:"search_sources,omitempty"`
}

// AnswerEnvelope is the provider-agnostic result of one query execution,
// independent of whether it came from a structured call or a
// natural-then-analyze pipeline. Zero entities with zero citations is a
// valid envelope (absence, not error).
type AnswerEnvelope struct {
	AnswerSummary   string         `json:"answer_summary"`
	OrderedEntities []AnswerEntity `json:"ordered_entities"`
	Citations       []Citation     `json:"citations"`
	Flags           []string       `json:"flags,omitempty"`
}
