package analyzer

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/vitebski/mysql-model-detector/pkg/models"
)

// RawTable is a row of information_schema.TABLES
type RawTable struct {
	Name     string
	Comment  string
	RowCount int64
}

// RawColumn is a row of information_schema.COLUMNS joined with the primary key usage
type RawColumn struct {
	Name          string
	DataType      string
	IsNullable    string
	Comment       string
	CharMaxLength sql.NullInt64
	IsPrimary     bool
}

// FormatDataType renders a catalog data type; varchar carries its length
func FormatDataType(dataType string, charMaxLength sql.NullInt64) string {
	if strings.EqualFold(dataType, "varchar") && charMaxLength.Valid {
		return fmt.Sprintf("varchar(%d)", charMaxLength.Int64)
	}
	return dataType
}

// NormalizeColumn converts a catalog column row into a ColumnDescriptor
func NormalizeColumn(raw RawColumn) models.ColumnDescriptor {
	return models.ColumnDescriptor{
		ColumnName:    raw.Name,
		DataType:      FormatDataType(raw.DataType, raw.CharMaxLength),
		IsNullable:    strings.EqualFold(raw.IsNullable, "YES"),
		IsPrimary:     raw.IsPrimary,
		ColumnComment: raw.Comment,
	}
}

// NormalizeTable builds a TableDescriptor from a table row and its columns in ordinal order
func NormalizeTable(raw RawTable, columns []RawColumn) models.TableDescriptor {
	table := models.TableDescriptor{
		TableName:    raw.Name,
		TableComment: raw.Comment,
		Columns:      make([]models.ColumnDescriptor, 0, len(columns)),
		RowCount:     raw.RowCount,
	}

	var primaryKey []string
	for _, raw := range columns {
		col := NormalizeColumn(raw)
		if col.IsPrimary {
			primaryKey = append(primaryKey, col.ColumnName)
		}
		table.Columns = append(table.Columns, col)
	}
	table.PrimaryKey = strings.Join(primaryKey, ",")

	return table
}

// PrimaryKeyColumns splits a comma-joined primary key
func PrimaryKeyColumns(table models.TableDescriptor) []string {
	if table.PrimaryKey == "" {
		return nil
	}
	return strings.Split(table.PrimaryKey, ",")
}

// ValidateTable checks that every primary key column exists in the table
func ValidateTable(table models.TableDescriptor) error {
	for _, name := range PrimaryKeyColumns(table) {
		if _, ok := table.Column(name); !ok {
			return fmt.Errorf("table %s: primary key column %s is not a column", table.TableName, name)
		}
	}
	return nil
}
