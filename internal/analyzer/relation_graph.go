package analyzer

import (
	"sort"

	"github.com/vitebski/mysql-model-detector/pkg/models"
	"github.com/yourbasic/graph"
)

// RelationGraph is the table graph induced by a set of logical foreign keys.
// Edges point from the referencing (source) table to the referenced (target) table.
type RelationGraph struct {
	Tables        []string
	TableIndexMap map[string]int
	Directed      *graph.Mutable
	Undirected    *graph.Mutable
}

// NewRelationGraph builds the relation graph; relationships naming unknown tables are ignored
func NewRelationGraph(tables []models.TableDescriptor, fks []models.LogicalForeignKey) *RelationGraph {
	g := &RelationGraph{
		Tables:        make([]string, len(tables)),
		TableIndexMap: make(map[string]int, len(tables)),
		Directed:      graph.New(len(tables)),
		Undirected:    graph.New(len(tables)),
	}
	for i, table := range tables {
		g.Tables[i] = table.TableName
		g.TableIndexMap[table.TableName] = i
	}

	for _, fk := range fks {
		src, ok := g.TableIndexMap[fk.SourceTableName]
		if !ok {
			continue
		}
		dst, ok := g.TableIndexMap[fk.TargetTableName]
		if !ok {
			continue
		}
		g.Directed.Add(src, dst)
		g.Undirected.AddBoth(src, dst)
	}
	return g
}

// Clusters returns groups of tables connected by at least one relationship.
// Tables without relationships are not part of any cluster.
func (g *RelationGraph) Clusters() [][]string {
	var clusters [][]int
	for _, component := range graph.Components(g.Undirected) {
		if len(component) < 2 {
			continue
		}
		sort.Ints(component)
		clusters = append(clusters, component)
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i][0] < clusters[j][0] })

	result := make([][]string, 0, len(clusters))
	for _, component := range clusters {
		result = append(result, g.names(component))
	}
	return result
}

// Isolated returns the tables that take part in no relationship, in table order
func (g *RelationGraph) Isolated() []string {
	var isolated []string
	for i, table := range g.Tables {
		if g.Undirected.Degree(i) == 0 {
			isolated = append(isolated, table)
		}
	}
	return isolated
}

// Acyclic reports whether the directed relation graph has no cycles, self references included
func (g *RelationGraph) Acyclic() bool {
	return graph.Acyclic(g.Directed)
}

// Cycles returns groups of tables that reference each other, directly or transitively
func (g *RelationGraph) Cycles() [][]string {
	var cycles [][]string
	for _, component := range graph.StrongComponents(g.Directed) {
		if len(component) == 1 && !g.Directed.Edge(component[0], component[0]) {
			continue
		}
		sort.Ints(component)
		cycles = append(cycles, g.names(component))
	}
	sort.Slice(cycles, func(i, j int) bool {
		return g.TableIndexMap[cycles[i][0]] < g.TableIndexMap[cycles[j][0]]
	})
	return cycles
}

// LoadOrder returns the tables ordered so that referenced tables come before referencing ones.
// ok is false when the graph has a cycle.
func (g *RelationGraph) LoadOrder() ([]string, bool) {
	order, ok := graph.TopSort(g.Directed)
	if !ok {
		return nil, false
	}

	// TopSort puts sources before targets; referenced tables must come first
	tables := make([]string, len(order))
	for i, v := range order {
		tables[len(order)-1-i] = g.Tables[v]
	}
	return tables, true
}

func (g *RelationGraph) names(indices []int) []string {
	names := make([]string, len(indices))
	for i, v := range indices {
		names[i] = g.Tables[v]
	}
	return names
}
