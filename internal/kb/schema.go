package kb

import (
	"strings"

	"plansql/internal/model"
	"plansql/internal/vector"
)

// SchemaKB 列级目录知识库
type SchemaKB struct {
	data  []model.SchemaEntity
	index *vector.Index
	byDoc map[string]model.SchemaEntity
}

// NewSchemaKB loads the schema catalogue and indexes every column entry.
func NewSchemaKB(path string) (*SchemaKB, error) {
	items, err := loadCatalogue[model.SchemaEntity](path)
	if err != nil {
		return nil, err
	}
	kb := &SchemaKB{
		data:  items,
		index: vector.New(),
		byDoc: make(map[string]model.SchemaEntity, len(items)),
	}
	for _, item := range items {
		text := strings.Join([]string{
			item.Table,
			item.Field,
			item.FieldDesc,
			strings.Join(item.Aliases, " "),
			item.Unit,
			item.DataType,
			strings.Join(item.QualityTags, " "),
		}, " ")
		id := docSchema + item.Key()
		kb.index.Upsert(id, text, nil)
		kb.byDoc[id] = item
	}
	return kb, nil
}

// Query returns the top-k schema entries for a free-text query.
func (kb *SchemaKB) Query(text string, topK int) []model.SchemaEntity {
	docs := kb.index.Query(text, topK, nil)
	out := make([]model.SchemaEntity, 0, len(docs))
	for _, doc := range docs {
		out = append(out, kb.byDoc[doc.ID])
	}
	return out
}

// All returns the full catalogue in file order.
func (kb *SchemaKB) All() []model.SchemaEntity {
	return kb.data
}

// TimeFields returns every time-typed column in file order.
func (kb *SchemaKB) TimeFields() []model.SchemaEntity {
	var out []model.SchemaEntity
	for _, item := range kb.data {
		if item.IsTimeLike() {
			out = append(out, item)
		}
	}
	return out
}
