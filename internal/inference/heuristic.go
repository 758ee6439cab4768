package inference

import (
	"context"
	"strings"

	"github.com/jinzhu/inflection"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/mysql-model-detector/pkg/models"
)

// DefaultSuffixes are the column name suffixes that mark a foreign key candidate
var DefaultSuffixes = []string{"_id"}

// Heuristic infers relationships from declared constraints and column naming conventions.
//
// A column named <prefix><suffix> references the table whose name equals prefix,
// its plural or its singular (case-insensitive, first match wins). The referenced
// column is the target's single-column primary key, or its "id" column.
// Relationships are many-to-one unless the source column carries a single-column unique index.
type Heuristic struct {
	Suffixes []string
	Logger   *logrus.Logger
}

// NewHeuristic creates a heuristic strategy with the default suffixes
func NewHeuristic(logger *logrus.Logger) *Heuristic {
	return &Heuristic{
		Suffixes: DefaultSuffixes,
		Logger:   logger,
	}
}

func (h *Heuristic) Name() string { return "heuristic" }

// Infer returns the scanned tables unchanged together with the inferred relationships
func (h *Heuristic) Infer(ctx context.Context, in Input) (*models.DatabaseMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &models.DatabaseMetadata{
		Tables:      in.Scan.Tables,
		ForeignKeys: h.Relationships(in.Scan),
	}, nil
}

// Relationships returns declared foreign keys first, then naming-convention candidates
func (h *Heuristic) Relationships(scan models.ScanResult) []models.LogicalForeignKey {
	unique := scan.SingleColumnUnique()
	tables := make(map[string]models.TableDescriptor, len(scan.Tables))
	for _, table := range scan.Tables {
		tables[strings.ToLower(table.TableName)] = table
	}

	set := NewRelationSet()

	for _, declared := range scan.DeclaredForeignKeys {
		source, ok := tables[strings.ToLower(declared.TableName)]
		if !ok {
			continue
		}
		target, ok := tables[strings.ToLower(declared.ReferencedTable)]
		if !ok {
			h.Logger.Debugf("Skipping foreign key %s: %s is outside the scanned schema",
				declared.ConstraintName, declared.ReferencedTable)
			continue
		}
		set.Add(newRelation(source.TableName, declared.ColumnName, target.TableName, declared.ReferencedColumn, unique))
	}

	for _, source := range scan.Tables {
		for _, col := range source.Columns {
			prefix, ok := h.candidatePrefix(col.ColumnName)
			if !ok {
				continue
			}

			target, ok := matchTable(prefix, tables)
			if !ok {
				continue
			}

			targetColumn := referencedColumn(target)
			if targetColumn == "" {
				h.Logger.Debugf("Column %s.%s matches %s, which has no single key column",
					source.TableName, col.ColumnName, target.TableName)
				continue
			}
			if target.TableName == source.TableName && targetColumn == col.ColumnName {
				continue
			}

			if set.Add(newRelation(source.TableName, col.ColumnName, target.TableName, targetColumn, unique)) {
				h.Logger.Debugf("Inferred %s.%s -> %s.%s", source.TableName, col.ColumnName, target.TableName, targetColumn)
			}
		}
	}

	return set.List()
}

// candidatePrefix strips a foreign key suffix from a column name
func (h *Heuristic) candidatePrefix(column string) (string, bool) {
	lower := strings.ToLower(column)
	for _, suffix := range h.Suffixes {
		suffix = strings.ToLower(suffix)
		if len(lower) > len(suffix) && strings.HasSuffix(lower, suffix) {
			return lower[:len(lower)-len(suffix)], true
		}
	}
	return "", false
}

// matchTable finds the table named prefix, its plural or its singular
func matchTable(prefix string, tables map[string]models.TableDescriptor) (models.TableDescriptor, bool) {
	for _, name := range []string{prefix, inflection.Plural(prefix), inflection.Singular(prefix)} {
		if table, ok := tables[strings.ToLower(name)]; ok {
			return table, true
		}
	}
	return models.TableDescriptor{}, false
}

// referencedColumn returns the single key column of a table, or ""
func referencedColumn(table models.TableDescriptor) string {
	if table.PrimaryKey != "" && !strings.Contains(table.PrimaryKey, ",") {
		return table.PrimaryKey
	}
	for _, col := range table.Columns {
		if strings.EqualFold(col.ColumnName, "id") {
			return col.ColumnName
		}
	}
	return ""
}

func newRelation(sourceTable, sourceColumn, targetTable, targetColumn string, unique map[models.UniqueColumnRef]bool) models.LogicalForeignKey {
	relationType := models.ManyToOne
	if unique[models.UniqueColumnRef{TableName: sourceTable, ColumnName: sourceColumn}] {
		relationType = models.OneToOne
	}
	return models.LogicalForeignKey{
		SourceTableName:  sourceTable,
		SourceColumnName: sourceColumn,
		TargetTableName:  targetTable,
		TargetColumnName: targetColumn,
		RelationType:     relationType,
	}
}
