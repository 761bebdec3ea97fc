package connector

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/brandlens/geo-audit/internal/model"
	"github.com/brandlens/geo-audit/internal/reconcile"
)

// rawEnvelope is the JSON shape both prompt flavors ask the model for.
type rawEnvelope struct {
	AnswerSummary string      `json:"answer_summary"`
	Entities      []rawEntity `json:"entities"`
	Citations     []struct {
		URL string `json:"url"`
	} `json:"citations"`
	Flags []string `json:"flags"`
}

type rawEntity struct {
	Name      string `json:"name"`
	Domain    string `json:"domain"`
	Position  int    `json:"position"`
	Rationale string `json:"rationale"`
}

// extractJSON pulls the first JSON object out of model output, tolerating
// markdown fences and prose around it.
func extractJSON(text string) (string, error) {
	s := strings.TrimSpace(text)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", eris.New("connector: no JSON object in model output")
	}
	return s[start : end+1], nil
}

// parseEnvelope decodes model output into an AnswerEnvelope. Entities are
// ordered by position; missing or zero positions are assigned from list
// order. Empty entities and citations are valid (absence, not error).
func parseEnvelope(text string) (*model.AnswerEnvelope, error) {
	doc, err := extractJSON(text)
	if err != nil {
		return nil, err
	}

	var raw rawEnvelope
	if err := json.Unmarshal([]byte(doc), &raw); err != nil {
		return nil, eris.Wrap(err, "connector: unmarshal envelope")
	}

	entities := make([]model.AnswerEntity, 0, len(raw.Entities))
	for i, e := range raw.Entities {
		if strings.TrimSpace(e.Name) == "" {
			continue
		}
		pos := e.Position
		if pos < 1 {
			pos = i + 1
		}
		entities = append(entities, model.AnswerEntity{
			Name:      strings.TrimSpace(e.Name),
			Domain:    reconcile.NormalizeDomain(e.Domain),
			Position:  pos,
			Rationale: strings.TrimSpace(e.Rationale),
		})
	}
	sort.SliceStable(entities, func(i, j int) bool {
		return entities[i].Position < entities[j].Position
	})

	citations := make([]model.Citation, 0, len(raw.Citations))
	for _, c := range raw.Citations {
		u := strings.TrimSpace(c.URL)
		if u == "" {
			continue
		}
		citations = append(citations, model.Citation{
			URL:    u,
			Domain: reconcile.DomainOf(u),
		})
	}

	return &model.AnswerEnvelope{
		AnswerSummary:   strings.TrimSpace(raw.AnswerSummary),
		OrderedEntities: entities,
		Citations:       citations,
		Flags:           raw.Flags,
	}, nil
}
