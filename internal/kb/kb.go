// Package kb loads the four JSON catalogues (schema, joins, metrics,
// templates) and serves ranked lookups over them. Each knowledge base owns
// its own vector index; catalogues are loaded once at startup and the KBs
// are read-only afterwards.
package kb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Namespaces for vector index document ids.
const (
	docSchema   = "schema::"
	docJoin     = "join::"
	docMetric   = "metric::"
	docTemplate = "template::"
)

// loadCatalogue reads a JSON array of entities. Unknown fields are
// rejected so catalogue drift fails loudly at startup.
func loadCatalogue[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalogue: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	var items []T
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return items, nil
}
