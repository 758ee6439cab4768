package models

import "fmt"

// Engine identifies the database engine of a connection
type Engine string

const (
	EngineMySQL Engine = "mysql"
)

// ConnectionConfig identifies a reachable database
type ConnectionConfig struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Engine       Engine `json:"dbType"`
	Host         string `json:"host"`
	Port         string `json:"port"`
	DatabaseName string `json:"databaseName"`
	Username     string `json:"username"`
	Password     string `json:"password"`
}

// ConnectionResult is the outcome of a registry operation
type ConnectionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// ColumnDescriptor represents a normalized table column
type ColumnDescriptor struct {
	ColumnName    string `json:"columnName"`
	DataType      string `json:"dataType"`
	IsNullable    bool   `json:"isNullable"`
	IsPrimary     bool   `json:"isPrimary"`
	IsForeignKey  *bool  `json:"isForeignKey,omitempty"`
	ColumnComment string `json:"columnComment"`
}

// TableDescriptor represents a normalized table
type TableDescriptor struct {
	TableName    string             `json:"tableName"`
	TableComment string             `json:"tableComment"`
	Columns      []ColumnDescriptor `json:"columns"`
	PrimaryKey   string             `json:"primaryKey"`
	RowCount     int64              `json:"rowCount,omitempty"`
}

// Column returns the column with the given name
func (t TableDescriptor) Column(name string) (ColumnDescriptor, bool) {
	for _, col := range t.Columns {
		if col.ColumnName == name {
			return col, true
		}
	}
	return ColumnDescriptor{}, false
}

// UniqueKey is a unique index or primary key with its columns in index order
type UniqueKey struct {
	TableName string   `json:"tableName"`
	IndexName string   `json:"indexName"`
	Columns   []string `json:"columns"`
}

// UniqueColumnRef identifies a column covered by a unique index
type UniqueColumnRef struct {
	TableName  string `json:"tableName"`
	ColumnName string `json:"columnName"`
}

// String renders the reference the way the metadata store expects it
func (u UniqueColumnRef) String() string {
	return fmt.Sprintf("%s.%s", u.TableName, u.ColumnName)
}

// DeclaredForeignKey is a foreign key constraint declared in the catalog
type DeclaredForeignKey struct {
	TableName        string `json:"tableName"`
	ColumnName       string `json:"columnName"`
	ReferencedTable  string `json:"referencedTable"`
	ReferencedColumn string `json:"referencedColumn"`
	ConstraintName   string `json:"constraintName"`
}

// RelationType describes the cardinality of a logical foreign key
type RelationType string

const (
	OneToOne   RelationType = "one-to-one"
	OneToMany  RelationType = "one-to-many"
	ManyToOne  RelationType = "many-to-one"
	ManyToMany RelationType = "many-to-many"
)

// Valid reports whether r is a known relation type
func (r RelationType) Valid() bool {
	switch r {
	case OneToOne, OneToMany, ManyToOne, ManyToMany:
		return true
	}
	return false
}

// LogicalForeignKey is a directed relationship between two table columns
type LogicalForeignKey struct {
	ID               int64        `json:"id,omitempty"`
	SourceTableID    int64        `json:"sourceTableId,omitempty"`
	SourceTableName  string       `json:"sourceTableName"`
	SourceColumnName string       `json:"sourceColumnName"`
	TargetTableID    int64        `json:"targetTableId,omitempty"`
	TargetTableName  string       `json:"targetTableName"`
	TargetColumnName string       `json:"targetColumnName"`
	RelationType     RelationType `json:"relationType"`
}

// RelationKey is the identity of a LogicalForeignKey; relation type is not part of it
type RelationKey struct {
	SourceTable  string
	SourceColumn string
	TargetTable  string
	TargetColumn string
}

// Key returns the identity tuple of the relationship
func (fk LogicalForeignKey) Key() RelationKey {
	return RelationKey{
		SourceTable:  fk.SourceTableName,
		SourceColumn: fk.SourceColumnName,
		TargetTable:  fk.TargetTableName,
		TargetColumn: fk.TargetColumnName,
	}
}

// SameRelation reports whether two relationships share the same identity
func (fk LogicalForeignKey) SameRelation(other LogicalForeignKey) bool {
	return fk.Key() == other.Key()
}

// Complete reports whether all four endpoint fields are set
func (fk LogicalForeignKey) Complete() bool {
	return fk.SourceTableName != "" && fk.SourceColumnName != "" &&
		fk.TargetTableName != "" && fk.TargetColumnName != ""
}

func (fk LogicalForeignKey) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s (%s)",
		fk.SourceTableName, fk.SourceColumnName, fk.TargetTableName, fk.TargetColumnName, fk.RelationType)
}

// ScanResult is the output bundle of a schema scan
type ScanResult struct {
	Tables              []TableDescriptor    `json:"tables"`
	UniqueColumns       []UniqueColumnRef    `json:"uniqueColumns"`
	UniqueKeys          []UniqueKey          `json:"uniqueKeys,omitempty"`
	DeclaredForeignKeys []DeclaredForeignKey `json:"declaredForeignKeys,omitempty"`
}

// UniqueSet returns the unique columns as a lookup set
func (s ScanResult) UniqueSet() map[UniqueColumnRef]bool {
	set := make(map[UniqueColumnRef]bool, len(s.UniqueColumns))
	for _, ref := range s.UniqueColumns {
		set[ref] = true
	}
	return set
}

// SingleColumnUnique returns the columns that are unique on their own.
// A column that only takes part in a composite key is left out.
// Without index detail every unique column counts.
func (s ScanResult) SingleColumnUnique() map[UniqueColumnRef]bool {
	if s.UniqueKeys == nil {
		return s.UniqueSet()
	}
	set := make(map[UniqueColumnRef]bool, len(s.UniqueKeys))
	for _, key := range s.UniqueKeys {
		if len(key.Columns) == 1 {
			set[UniqueColumnRef{TableName: key.TableName, ColumnName: key.Columns[0]}] = true
		}
	}
	return set
}

// DatabaseMetadata is the persisted model of a connection
type DatabaseMetadata struct {
	Tables      []TableDescriptor   `json:"tables"`
	ForeignKeys []LogicalForeignKey `json:"foreignKeys"`
}
