package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vitebski/mysql-model-detector/pkg/models"
)

func tablesNamed(names ...string) []models.TableDescriptor {
	tables := make([]models.TableDescriptor, len(names))
	for i, name := range names {
		tables[i] = models.TableDescriptor{TableName: name}
	}
	return tables
}

func relation(source, target string) models.LogicalForeignKey {
	return models.LogicalForeignKey{
		SourceTableName:  source,
		SourceColumnName: "ref_id",
		TargetTableName:  target,
		TargetColumnName: "id",
		RelationType:     models.ManyToOne,
	}
}

func TestRelationGraph(t *testing.T) {
	tables := tablesNamed("order_items", "orders", "products", "tags", "users")
	g := NewRelationGraph(tables, []models.LogicalForeignKey{
		relation("orders", "users"),
		relation("order_items", "orders"),
		relation("order_items", "products"),
		relation("orders", "ghosts"),
	})

	assert.Equal(t, [][]string{{"order_items", "orders", "products", "users"}}, g.Clusters())
	assert.Equal(t, []string{"tags"}, g.Isolated())
	assert.True(t, g.Acyclic())
	assert.Empty(t, g.Cycles())

	order, ok := g.LoadOrder()
	assert.True(t, ok)
	assert.Len(t, order, len(tables))
	position := make(map[string]int)
	for i, table := range order {
		position[table] = i
	}
	assert.Less(t, position["users"], position["orders"])
	assert.Less(t, position["orders"], position["order_items"])
	assert.Less(t, position["products"], position["order_items"])
}

func TestRelationGraphCycles(t *testing.T) {
	tables := tablesNamed("departments", "employees", "audit")
	g := NewRelationGraph(tables, []models.LogicalForeignKey{
		relation("employees", "departments"),
		relation("departments", "employees"),
		relation("audit", "audit"),
	})

	assert.False(t, g.Acyclic())
	assert.Equal(t, [][]string{{"departments", "employees"}, {"audit"}}, g.Cycles())

	order, ok := g.LoadOrder()
	assert.False(t, ok)
	assert.Nil(t, order)
}
