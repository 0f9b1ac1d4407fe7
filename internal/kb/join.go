package kb

import (
	"sort"
	"strings"

	"plansql/internal/model"
	"plansql/internal/vector"
)

// JoinKB 预枚举连接路径知识库。加载时同时物化一张无向表邻接图，
// 供目录巡检和未来的图搜索使用；规划路径本身只消费排名结果。
type JoinKB struct {
	data      []model.JoinPath
	index     *vector.Index
	byDoc     map[string]model.JoinPath
	byID      map[string]model.JoinPath
	adjacency map[string]map[string]bool
}

// NewJoinKB loads the join catalogue and indexes every path.
func NewJoinKB(path string) (*JoinKB, error) {
	items, err := loadCatalogue[model.JoinPath](path)
	if err != nil {
		return nil, err
	}
	kb := &JoinKB{
		data:      items,
		index:     vector.New(),
		byDoc:     make(map[string]model.JoinPath, len(items)),
		byID:      make(map[string]model.JoinPath, len(items)),
		adjacency: make(map[string]map[string]bool),
	}
	for _, item := range items {
		text := strings.Join([]string{
			item.JoinPathID,
			item.Description,
			strings.Join(item.Tables, " "),
		}, " ")
		id := docJoin + item.JoinPathID
		kb.index.Upsert(id, text, nil)
		kb.byDoc[id] = item
		kb.byID[item.JoinPathID] = item
		for _, edge := range item.Edges {
			kb.addEdge(edge.LeftTable, edge.RightTable)
			kb.addEdge(edge.RightTable, edge.LeftTable)
		}
	}
	return kb, nil
}

func (kb *JoinKB) addEdge(left, right string) {
	if kb.adjacency[left] == nil {
		kb.adjacency[left] = make(map[string]bool)
	}
	kb.adjacency[left][right] = true
}

// Query returns the top-k join paths for a free-text query.
func (kb *JoinKB) Query(text string, topK int) []model.JoinPath {
	docs := kb.index.Query(text, topK, nil)
	out := make([]model.JoinPath, 0, len(docs))
	for _, doc := range docs {
		out = append(out, kb.byDoc[doc.ID])
	}
	return out
}

// ByID looks up a join path by id.
func (kb *JoinKB) ByID(id string) (model.JoinPath, bool) {
	jp, ok := kb.byID[id]
	return jp, ok
}

// All returns the full catalogue in file order.
func (kb *JoinKB) All() []model.JoinPath {
	return kb.data
}

// Adjacency returns the undirected table adjacency with sorted neighbours.
func (kb *JoinKB) Adjacency() map[string][]string {
	out := make(map[string][]string, len(kb.adjacency))
	for table, neighbours := range kb.adjacency {
		list := make([]string, 0, len(neighbours))
		for n := range neighbours {
			list = append(list, n)
		}
		sort.Strings(list)
		out[table] = list
	}
	return out
}

// Components returns the connected components of the join graph, each
// sorted, ordered by their smallest table name.
func (kb *JoinKB) Components() [][]string {
	visited := make(map[string]bool)
	tables := make([]string, 0, len(kb.adjacency))
	for table := range kb.adjacency {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	var components [][]string
	for _, start := range tables {
		if visited[start] {
			continue
		}
		var component []string
		queue := []string{start}
		visited[start] = true
		for len(queue) > 0 {
			table := queue[0]
			queue = queue[1:]
			component = append(component, table)
			neighbours := make([]string, 0, len(kb.adjacency[table]))
			for n := range kb.adjacency[table] {
				neighbours = append(neighbours, n)
			}
			sort.Strings(neighbours)
			for _, n := range neighbours {
				if !visited[n] {
					visited[n] = true
					queue = append(queue, n)
				}
			}
		}
		sort.Strings(component)
		components = append(components, component)
	}
	return components
}
