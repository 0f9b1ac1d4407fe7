package kb

import (
	"strings"

	"plansql/internal/model"
	"plansql/internal/vector"
)

// TemplateKB 意图模板知识库
type TemplateKB struct {
	data  []model.TemplateRule
	index *vector.Index
	byDoc map[string]model.TemplateRule
}

// NewTemplateKB loads the template catalogue and indexes every rule.
func NewTemplateKB(path string) (*TemplateKB, error) {
	items, err := loadCatalogue[model.TemplateRule](path)
	if err != nil {
		return nil, err
	}
	kb := &TemplateKB{
		data:  items,
		index: vector.New(),
		byDoc: make(map[string]model.TemplateRule, len(items)),
	}
	for _, item := range items {
		text := strings.Join([]string{
			item.TemplateID,
			item.Intent,
			strings.Join(item.AllowedAggs, " "),
			strings.Join(item.AllowedFuncs, " "),
			strings.Join(item.RequiredClauses, " "),
		}, " ")
		id := docTemplate + item.TemplateID
		kb.index.Upsert(id, text, nil)
		kb.byDoc[id] = item
	}
	return kb, nil
}

// Query returns the top-k template rules for a free-text query.
func (kb *TemplateKB) Query(text string, topK int) []model.TemplateRule {
	docs := kb.index.Query(text, topK, nil)
	out := make([]model.TemplateRule, 0, len(docs))
	for _, doc := range docs {
		out = append(out, kb.byDoc[doc.ID])
	}
	return out
}

// ByIntent returns every rule declared for an intent, in file order.
func (kb *TemplateKB) ByIntent(intent string) []model.TemplateRule {
	var out []model.TemplateRule
	for _, item := range kb.data {
		if item.Intent == intent {
			out = append(out, item)
		}
	}
	return out
}

// All returns the full catalogue in file order.
func (kb *TemplateKB) All() []model.TemplateRule {
	return kb.data
}
