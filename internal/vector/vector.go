// Package vector provides the lexical similarity index backing the
// knowledge bases. It is deliberately not an embedding store: scoring is
// token-set cosine, so any drop-in replacement only has to honour the
// ranking shape (scores in [0,1], descending, at most k documents).
package vector

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9_]+|[\x{4e00}-\x{9fff}]`)

// Tokenize lowercases text and splits it into word runs and single CJK
// ideographs.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range Tokenize(text) {
		set[tok] = true
	}
	return set
}

// Document 检索命中结果
type Document struct {
	ID       string
	Text     string
	Metadata map[string]string
	Score    float64
}

type entry struct {
	text     string
	metadata map[string]string
	tokens   map[string]bool
}

// Index is an in-memory token-set index. It is built once at startup and
// read-only afterwards; concurrent queries need no locking.
type Index struct {
	order []string
	docs  map[string]entry
}

// New creates an empty index.
func New() *Index {
	return &Index{docs: make(map[string]entry)}
}

// Upsert indexes a document. Re-upserting an id replaces the document but
// keeps its original insertion position.
func (ix *Index) Upsert(id, text string, metadata map[string]string) {
	if _, ok := ix.docs[id]; !ok {
		ix.order = append(ix.order, id)
	}
	ix.docs[id] = entry{text: text, metadata: metadata, tokens: tokenSet(text)}
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int {
	return len(ix.order)
}

// Query returns up to topK documents ranked by token-set cosine similarity,
// descending. Zero-score documents are omitted and ties keep insertion
// order. filter restricts to documents whose metadata matches every pair.
func (ix *Index) Query(text string, topK int, filter map[string]string) []Document {
	if topK <= 0 {
		return nil
	}
	qTokens := tokenSet(text)
	if len(qTokens) == 0 {
		return nil
	}
	var scored []Document
	for _, id := range ix.order {
		doc := ix.docs[id]
		if !matches(doc.metadata, filter) {
			continue
		}
		score := cosine(qTokens, doc.tokens)
		if score > 0 {
			scored = append(scored, Document{
				ID:       id,
				Text:     doc.text,
				Metadata: doc.metadata,
				Score:    score,
			})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

func matches(metadata, filter map[string]string) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

func cosine(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if b[tok] {
			inter++
		}
	}
	return float64(inter) / (math.Sqrt(float64(len(a))) * math.Sqrt(float64(len(b))))
}
