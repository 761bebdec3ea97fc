package connector

import (
	"fmt"
	"strings"

	"github.com/brandlens/geo-audit/internal/model"
)

// analyzeSystemText is the system prompt for the extraction phase of
// natural-mode connectors.
const analyzeSystemText = "You are an analyst extracting structured signals from an AI assistant's answer about rental properties. Return only valid JSON matching the requested schema. Use null for unknown fields. Do not invent entities that are not mentioned in the answer."

const analyzePrompt = `An AI assistant was asked:
%s

It answered:
---
%s
---
%s
Extract every company or property the answer mentions or recommends, in order of prominence (position 1 = most prominent). Include the website domain when the answer states or clearly implies one.

Also extract any URLs the answer itself cites inline.

Check the answer for factual problems relevant to this brand:
- Brand: %s
- Brand domains: %s%s
Add a flag string for each problem found (e.g. "wrong_city: answer places the property in Austin", "stale: references 2022 pricing"). Leave flags empty if none.

Return a valid JSON object:
{
  "answer_summary": "<2-3 sentence summary of the answer>",
  "entities": [{"name": "<entity name>", "domain": "<domain or null>", "position": <1-based rank>, "rationale": "<why the answer surfaced it>"}],
  "citations": [{"url": "<inline-cited url>"}],
  "flags": ["<flag>"]
}`

// structuredSystemText instructs the structured-mode surface to answer and
// self-report its ranked entities in one pass.
const structuredSystemText = "You are an answer engine that travelers consult for lodging recommendations. Answer the question naturally, then report the structured signals of your own answer. Return only valid JSON matching the requested schema."

const structuredPrompt = `Question: %s
%s
Answer the question the way you would for a real user, considering all relevant properties and companies. Then report your answer in this JSON shape:
{
  "answer_summary": "<your full answer, condensed to 2-3 sentences>",
  "entities": [{"name": "<company/property>", "domain": "<domain or null>", "position": <1-based rank, 1 = most prominent in your answer>, "rationale": "<one sentence>"}],
  "citations": [{"url": "<url you would cite, if any>"}],
  "flags": []
}

List entities strictly in the order your answer presents them. If your answer mentions no specific company or property, return empty entities and citations.`

// expectedLocation renders the local-accuracy hint for queries with a geo
// component.
func expectedLocation(query model.Query, brand model.BrandContext) string {
	loc := query.Geo
	if loc == "" && brand.City != "" {
		loc = strings.TrimSpace(brand.City + ", " + brand.State)
		loc = strings.TrimSuffix(loc, ",")
	}
	if loc == "" {
		return ""
	}
	return fmt.Sprintf("\n- Expected location: %s", loc)
}

func buildAnalyzePrompt(queryText, naturalText string, sources []model.SearchSource, query model.Query, brand model.BrandContext) string {
	var sourceBlock string
	if len(sources) > 0 {
		var b strings.Builder
		b.WriteString("Web sources it consulted:\n")
		for _, s := range sources {
			fmt.Fprintf(&b, "- %s (%s)\n", s.Title, s.URL)
		}
		sourceBlock = b.String() + "\n"
	}
	return fmt.Sprintf(analyzePrompt,
		queryText,
		naturalText,
		sourceBlock,
		brand.BrandName,
		strings.Join(brand.BrandDomains, ", "),
		expectedLocation(query, brand),
	)
}

func buildStructuredPrompt(query model.Query, brand model.BrandContext) string {
	var geoHint string
	if query.Geo != "" {
		geoHint = fmt.Sprintf("The user is asking about %s.\n", query.Geo)
	}
	return fmt.Sprintf(structuredPrompt, query.Text, geoHint)
}
