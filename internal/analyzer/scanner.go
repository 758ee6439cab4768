package analyzer

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/mysql-model-detector/internal/connector"
	"github.com/vitebski/mysql-model-detector/internal/errs"
	"github.com/vitebski/mysql-model-detector/pkg/models"
	"golang.org/x/sync/errgroup"
)

const (
	tablesQuery = `
		SELECT
			TABLE_NAME,
			TABLE_COMMENT,
			TABLE_ROWS
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ?
		AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME
	`

	columnsQuery = `
		SELECT
			c.COLUMN_NAME,
			c.DATA_TYPE,
			c.IS_NULLABLE,
			c.COLUMN_COMMENT,
			c.CHARACTER_MAXIMUM_LENGTH,
			CASE WHEN k.COLUMN_NAME IS NULL THEN 0 ELSE 1 END AS IS_PRIMARY
		FROM information_schema.COLUMNS c
		LEFT JOIN information_schema.KEY_COLUMN_USAGE k
			ON k.TABLE_SCHEMA = c.TABLE_SCHEMA
			AND k.TABLE_NAME = c.TABLE_NAME
			AND k.COLUMN_NAME = c.COLUMN_NAME
			AND k.CONSTRAINT_NAME = 'PRIMARY'
		WHERE c.TABLE_SCHEMA = ?
		AND c.TABLE_NAME = ?
		ORDER BY c.ORDINAL_POSITION
	`

	uniqueColumnsQuery = `
		SELECT
			TABLE_NAME,
			INDEX_NAME,
			COLUMN_NAME
		FROM information_schema.STATISTICS
		WHERE TABLE_SCHEMA = ?
		AND NON_UNIQUE = 0
		ORDER BY TABLE_NAME, INDEX_NAME, SEQ_IN_INDEX
	`

	foreignKeysQuery = `
		SELECT
			TABLE_NAME,
			COLUMN_NAME,
			REFERENCED_TABLE_NAME,
			REFERENCED_COLUMN_NAME,
			CONSTRAINT_NAME
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ?
		AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY TABLE_NAME, CONSTRAINT_NAME, ORDINAL_POSITION
	`
)

// Scanner reads the catalog of a MySQL schema and produces a ScanResult
type Scanner struct {
	Registry *connector.Registry
	Logger   *logrus.Logger
	// ColumnConcurrency bounds the per-table column queries run at once; 0 or 1 is sequential
	ColumnConcurrency int
}

// NewScanner creates a new schema scanner
func NewScanner(registry *connector.Registry, logger *logrus.Logger) *Scanner {
	return &Scanner{
		Registry: registry,
		Logger:   logger,
	}
}

// Scan acquires a connection for cfg and scans cfg.DatabaseName.
// A connection opened by the scan is released before Scan returns.
func (s *Scanner) Scan(ctx context.Context, cfg models.ConnectionConfig) (*models.ScanResult, error) {
	if cfg.Name == "" {
		return nil, errs.Validation("connection name is required")
	}
	if cfg.DatabaseName == "" {
		return nil, errs.Validation("database name is required")
	}

	db, release, err := s.Registry.Acquire(ctx, cfg)
	if err != nil {
		s.Logger.Errorf("Error acquiring connection %s: %v", cfg.Name, err)
		return nil, err
	}
	defer release()

	return s.ScanSchema(ctx, db, cfg.DatabaseName)
}

// ScanSchema runs the catalog queries for schema on q.
// Tables are listed first, then columns per table, then unique and foreign key usage.
func (s *Scanner) ScanSchema(ctx context.Context, q connector.Querier, schema string) (*models.ScanResult, error) {
	log := s.Logger.WithField("schema", schema)

	tables, err := s.listTables(ctx, q, schema)
	if err != nil {
		log.Errorf("Error getting tables: %v", err)
		return nil, err
	}
	log.Debugf("Found %d tables", len(tables))

	columns, err := s.listColumns(ctx, q, schema, tables)
	if err != nil {
		log.Errorf("Error getting columns: %v", err)
		return nil, err
	}

	unique, keys, err := s.listUniqueColumns(ctx, q, schema)
	if err != nil {
		log.Errorf("Error getting unique columns: %v", err)
		return nil, err
	}

	declared, err := s.listDeclaredForeignKeys(ctx, q, schema)
	if err != nil {
		log.Errorf("Error getting foreign keys: %v", err)
		return nil, err
	}

	result := &models.ScanResult{
		Tables:              make([]models.TableDescriptor, 0, len(tables)),
		UniqueColumns:       unique,
		UniqueKeys:          keys,
		DeclaredForeignKeys: declared,
	}
	for i, raw := range tables {
		table := NormalizeTable(raw, columns[i])
		if err := ValidateTable(table); err != nil {
			return nil, errs.Wrap(errs.ErrKindCatalogQuery, "inconsistent catalog", err)
		}
		result.Tables = append(result.Tables, table)
	}

	log.Infof("Scanned %d tables, %d unique columns, %d declared foreign keys",
		len(result.Tables), len(result.UniqueColumns), len(result.DeclaredForeignKeys))
	return result, nil
}

func (s *Scanner) listTables(ctx context.Context, q connector.Querier, schema string) ([]RawTable, error) {
	rows, err := q.QueryContext(ctx, tablesQuery, schema)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindCatalogQuery, "list tables", err)
	}
	defer rows.Close()

	var tables []RawTable
	for rows.Next() {
		var name, comment sql.NullString
		var rowCount sql.NullInt64
		if err := rows.Scan(&name, &comment, &rowCount); err != nil {
			return nil, errs.Wrap(errs.ErrKindCatalogQuery, "scan table row", err)
		}

		// Catalog noise
		if !name.Valid || name.String == "" {
			continue
		}

		tables = append(tables, RawTable{
			Name:     name.String,
			Comment:  comment.String,
			RowCount: rowCount.Int64,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrKindCatalogQuery, "list tables", err)
	}
	return tables, nil
}

// listColumns returns the columns of each table, index-aligned with tables
func (s *Scanner) listColumns(ctx context.Context, q connector.Querier, schema string, tables []RawTable) ([][]RawColumn, error) {
	columns := make([][]RawColumn, len(tables))

	if s.ColumnConcurrency <= 1 {
		for i, table := range tables {
			cols, err := s.tableColumns(ctx, q, schema, table.Name)
			if err != nil {
				return nil, err
			}
			columns[i] = cols
		}
		return columns, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.ColumnConcurrency)
	for i, table := range tables {
		i, table := i, table
		g.Go(func() error {
			cols, err := s.tableColumns(gctx, q, schema, table.Name)
			if err != nil {
				return err
			}
			columns[i] = cols
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return columns, nil
}

func (s *Scanner) tableColumns(ctx context.Context, q connector.Querier, schema, table string) ([]RawColumn, error) {
	rows, err := q.QueryContext(ctx, columnsQuery, schema, table)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindCatalogQuery, fmt.Sprintf("list columns for %s", table), err)
	}
	defer rows.Close()

	var columns []RawColumn
	for rows.Next() {
		var col RawColumn
		var comment sql.NullString
		if err := rows.Scan(&col.Name, &col.DataType, &col.IsNullable, &comment, &col.CharMaxLength, &col.IsPrimary); err != nil {
			return nil, errs.Wrap(errs.ErrKindCatalogQuery, fmt.Sprintf("scan column of %s", table), err)
		}
		col.Comment = comment.String
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrKindCatalogQuery, fmt.Sprintf("list columns for %s", table), err)
	}
	return columns, nil
}

// listUniqueColumns returns every column covered by a unique index together with the indexes themselves
func (s *Scanner) listUniqueColumns(ctx context.Context, q connector.Querier, schema string) ([]models.UniqueColumnRef, []models.UniqueKey, error) {
	rows, err := q.QueryContext(ctx, uniqueColumnsQuery, schema)
	if err != nil {
		return nil, nil, errs.Wrap(errs.ErrKindCatalogQuery, "list unique columns", err)
	}
	defer rows.Close()

	seen := make(map[models.UniqueColumnRef]bool)
	unique := []models.UniqueColumnRef{}
	keys := []models.UniqueKey{}
	for rows.Next() {
		var ref models.UniqueColumnRef
		var index string
		if err := rows.Scan(&ref.TableName, &index, &ref.ColumnName); err != nil {
			return nil, nil, errs.Wrap(errs.ErrKindCatalogQuery, "scan unique column", err)
		}

		if n := len(keys); n > 0 && keys[n-1].TableName == ref.TableName && keys[n-1].IndexName == index {
			keys[n-1].Columns = append(keys[n-1].Columns, ref.ColumnName)
		} else {
			keys = append(keys, models.UniqueKey{TableName: ref.TableName, IndexName: index, Columns: []string{ref.ColumnName}})
		}

		if seen[ref] {
			continue
		}
		seen[ref] = true
		unique = append(unique, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, errs.Wrap(errs.ErrKindCatalogQuery, "list unique columns", err)
	}
	return unique, keys, nil
}

func (s *Scanner) listDeclaredForeignKeys(ctx context.Context, q connector.Querier, schema string) ([]models.DeclaredForeignKey, error) {
	rows, err := q.QueryContext(ctx, foreignKeysQuery, schema)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindCatalogQuery, "list foreign keys", err)
	}
	defer rows.Close()

	var fks []models.DeclaredForeignKey
	for rows.Next() {
		var fk models.DeclaredForeignKey
		if err := rows.Scan(&fk.TableName, &fk.ColumnName, &fk.ReferencedTable, &fk.ReferencedColumn, &fk.ConstraintName); err != nil {
			return nil, errs.Wrap(errs.ErrKindCatalogQuery, "scan foreign key", err)
		}
		fks = append(fks, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrKindCatalogQuery, "list foreign keys", err)
	}
	return fks, nil
}
