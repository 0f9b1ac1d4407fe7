package kb

import (
	"strings"

	"plansql/internal/model"
	"plansql/internal/vector"
)

// MetricKB 指标口径知识库
type MetricKB struct {
	data  []model.MetricDef
	index *vector.Index
	byDoc map[string]model.MetricDef
	byID  map[string]model.MetricDef
}

// NewMetricKB loads the metric catalogue and indexes every definition.
func NewMetricKB(path string) (*MetricKB, error) {
	items, err := loadCatalogue[model.MetricDef](path)
	if err != nil {
		return nil, err
	}
	kb := &MetricKB{
		data:  items,
		index: vector.New(),
		byDoc: make(map[string]model.MetricDef, len(items)),
		byID:  make(map[string]model.MetricDef, len(items)),
	}
	for _, item := range items {
		text := strings.Join([]string{
			item.MetricID,
			item.Name,
			item.Definition,
			item.Formula,
			strings.Join(item.RequiredFields, " "),
			item.DefaultTimeGrain,
			item.Unit,
		}, " ")
		id := docMetric + item.MetricID
		kb.index.Upsert(id, text, nil)
		kb.byDoc[id] = item
		kb.byID[item.MetricID] = item
	}
	return kb, nil
}

// Query returns the top-k metric definitions for a free-text query.
func (kb *MetricKB) Query(text string, topK int) []model.MetricDef {
	docs := kb.index.Query(text, topK, nil)
	out := make([]model.MetricDef, 0, len(docs))
	for _, doc := range docs {
		out = append(out, kb.byDoc[doc.ID])
	}
	return out
}

// ByID looks up a metric definition by id.
func (kb *MetricKB) ByID(id string) (model.MetricDef, bool) {
	m, ok := kb.byID[id]
	return m, ok
}

// All returns the full catalogue in file order.
func (kb *MetricKB) All() []model.MetricDef {
	return kb.data
}
