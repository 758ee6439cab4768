package analyzer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jaswdr/faker"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitebski/mysql-model-detector/internal/connector"
	"github.com/vitebski/mysql-model-detector/internal/errs"
	"github.com/vitebski/mysql-model-detector/pkg/models"
)

var (
	tableColumns  = []string{"TABLE_NAME", "TABLE_COMMENT", "TABLE_ROWS"}
	columnColumns = []string{"COLUMN_NAME", "DATA_TYPE", "IS_NULLABLE", "COLUMN_COMMENT", "CHARACTER_MAXIMUM_LENGTH", "IS_PRIMARY"}
	uniqueColumns = []string{"TABLE_NAME", "INDEX_NAME", "COLUMN_NAME"}
	fkColumns     = []string{"TABLE_NAME", "COLUMN_NAME", "REFERENCED_TABLE_NAME", "REFERENCED_COLUMN_NAME", "CONSTRAINT_NAME"}
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress log output during tests
	return logger
}

func shopConfig() models.ConnectionConfig {
	return models.ConnectionConfig{
		ID:           7,
		Name:         "shop",
		Engine:       models.EngineMySQL,
		Host:         "localhost",
		Port:         "3306",
		DatabaseName: "shop",
		Username:     "root",
	}
}

// newMockScanner returns a scanner whose registry opens the given sqlmock handle
func newMockScanner(t *testing.T) (*Scanner, sqlmock.Sqlmock, *int) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	opened := 0
	registry := connector.NewRegistryWithOpener(func(cfg models.ConnectionConfig) (*sql.DB, error) {
		opened++
		return db, nil
	}, newTestLogger())

	return NewScanner(registry, newTestLogger()), mock, &opened
}

// expectShopCatalog registers the catalog of the users/orders example schema
func expectShopCatalog(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("FROM information_schema.TABLES").
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows(tableColumns).
			AddRow("users", "Registered users", int64(3)).
			AddRow("orders", "", int64(12)))

	mock.ExpectQuery("FROM information_schema.COLUMNS").
		WithArgs("shop", "users").
		WillReturnRows(sqlmock.NewRows(columnColumns).
			AddRow("id", "bigint", "NO", "", nil, int64(1)).
			AddRow("name", "varchar", "YES", "display name", int64(64), int64(0)))

	mock.ExpectQuery("FROM information_schema.COLUMNS").
		WithArgs("shop", "orders").
		WillReturnRows(sqlmock.NewRows(columnColumns).
			AddRow("id", "int", "NO", "", nil, int64(1)).
			AddRow("user_id", "bigint", "NO", "buyer", nil, int64(0)).
			AddRow("amount", "decimal", "YES", nil, nil, int64(0)))

	mock.ExpectQuery("FROM information_schema.STATISTICS").
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows(uniqueColumns).
			AddRow("orders", "PRIMARY", "id").
			AddRow("users", "PRIMARY", "id").
			AddRow("users", "id_copy", "id"))

	mock.ExpectQuery("FROM information_schema.KEY_COLUMN_USAGE").
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows(fkColumns))
}

func TestScan(t *testing.T) {
	scanner, mock, _ := newMockScanner(t)
	expectShopCatalog(mock)
	mock.ExpectClose()

	result, err := scanner.Scan(context.Background(), shopConfig())
	require.NoError(t, err)

	require.Len(t, result.Tables, 2)
	users, orders := result.Tables[0], result.Tables[1]

	assert.Equal(t, "users", users.TableName)
	assert.Equal(t, "Registered users", users.TableComment)
	assert.Equal(t, "id", users.PrimaryKey)
	assert.Equal(t, int64(3), users.RowCount)
	assert.Equal(t, []models.ColumnDescriptor{
		{ColumnName: "id", DataType: "bigint", IsNullable: false, IsPrimary: true},
		{ColumnName: "name", DataType: "varchar(64)", IsNullable: true, ColumnComment: "display name"},
	}, users.Columns)

	assert.Equal(t, "orders", orders.TableName)
	assert.Equal(t, "id", orders.PrimaryKey)
	assert.Equal(t, []string{"id", "user_id", "amount"}, columnNames(orders))
	assert.Equal(t, "buyer", orders.Columns[1].ColumnComment)
	assert.Nil(t, orders.Columns[1].IsForeignKey)

	assert.ElementsMatch(t, []models.UniqueColumnRef{
		{TableName: "orders", ColumnName: "id"},
		{TableName: "users", ColumnName: "id"},
	}, result.UniqueColumns)
	assert.Equal(t, []models.UniqueKey{
		{TableName: "orders", IndexName: "PRIMARY", Columns: []string{"id"}},
		{TableName: "users", IndexName: "PRIMARY", Columns: []string{"id"}},
		{TableName: "users", IndexName: "id_copy", Columns: []string{"id"}},
	}, result.UniqueKeys)
	assert.Empty(t, result.DeclaredForeignKeys)

	assert.Empty(t, scanner.Registry.List(), "on-demand connection must be released")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScanValidation(t *testing.T) {
	scanner, _, opened := newMockScanner(t)

	cfg := shopConfig()
	cfg.DatabaseName = ""
	_, err := scanner.Scan(context.Background(), cfg)
	assert.True(t, errs.IsValidation(err))

	cfg = shopConfig()
	cfg.Name = ""
	_, err = scanner.Scan(context.Background(), cfg)
	assert.True(t, errs.IsValidation(err))

	assert.Equal(t, 0, *opened)
}

func TestScanColumnQueryFailureReleasesConnection(t *testing.T) {
	scanner, mock, _ := newMockScanner(t)

	mock.ExpectQuery("FROM information_schema.TABLES").
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows(tableColumns).
			AddRow("users", "", int64(0)).
			AddRow("orders", "", int64(0)))
	mock.ExpectQuery("FROM information_schema.COLUMNS").
		WithArgs("shop", "users").
		WillReturnError(errors.New("lost connection to MySQL server during query"))
	mock.ExpectClose()

	result, err := scanner.Scan(context.Background(), shopConfig())

	assert.Nil(t, result)
	assert.True(t, errs.IsCatalogQuery(err))
	assert.Contains(t, err.Error(), "list columns for users")
	assert.Empty(t, scanner.Registry.List())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScanSkipsUnnamedTables(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	scanner := NewScanner(nil, newTestLogger())

	mock.ExpectQuery("FROM information_schema.TABLES").
		WillReturnRows(sqlmock.NewRows(tableColumns).
			AddRow(nil, nil, nil).
			AddRow("", "", int64(0)).
			AddRow("tags", nil, nil))
	mock.ExpectQuery("FROM information_schema.COLUMNS").
		WithArgs("shop", "tags").
		WillReturnRows(sqlmock.NewRows(columnColumns).
			AddRow("label", "varchar", "NO", "", int64(32), int64(0)))
	mock.ExpectQuery("FROM information_schema.STATISTICS").WillReturnRows(sqlmock.NewRows(uniqueColumns))
	mock.ExpectQuery("FROM information_schema.KEY_COLUMN_USAGE").WillReturnRows(sqlmock.NewRows(fkColumns))

	result, err := scanner.ScanSchema(context.Background(), db, "shop")
	require.NoError(t, err)

	require.Len(t, result.Tables, 1)
	assert.Equal(t, "tags", result.Tables[0].TableName)
	assert.Equal(t, "", result.Tables[0].PrimaryKey, "no primary key yields an empty string")
	assert.NotNil(t, result.UniqueColumns)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScanDeclaredForeignKeys(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	scanner := NewScanner(nil, newTestLogger())

	mock.ExpectQuery("FROM information_schema.TABLES").
		WillReturnRows(sqlmock.NewRows(tableColumns).AddRow("order_items", "", int64(0)))
	mock.ExpectQuery("FROM information_schema.COLUMNS").
		WithArgs("shop", "order_items").
		WillReturnRows(sqlmock.NewRows(columnColumns).
			AddRow("order_id", "int", "NO", "", nil, int64(1)).
			AddRow("product_id", "int", "NO", "", nil, int64(1)).
			AddRow("quantity", "int", "NO", "", nil, int64(0)))
	mock.ExpectQuery("FROM information_schema.STATISTICS").
		WillReturnRows(sqlmock.NewRows(uniqueColumns).
			AddRow("order_items", "PRIMARY", "order_id").
			AddRow("order_items", "PRIMARY", "product_id"))
	mock.ExpectQuery("FROM information_schema.KEY_COLUMN_USAGE").
		WillReturnRows(sqlmock.NewRows(fkColumns).
			AddRow("order_items", "order_id", "orders", "id", "fk_items_order"))

	result, err := scanner.ScanSchema(context.Background(), db, "shop")
	require.NoError(t, err)

	assert.Equal(t, "order_id,product_id", result.Tables[0].PrimaryKey)
	assert.Equal(t, []models.DeclaredForeignKey{{
		TableName:        "order_items",
		ColumnName:       "order_id",
		ReferencedTable:  "orders",
		ReferencedColumn: "id",
		ConstraintName:   "fk_items_order",
	}}, result.DeclaredForeignKeys)

	assert.Len(t, result.UniqueColumns, 2)
	assert.Equal(t, []models.UniqueKey{
		{TableName: "order_items", IndexName: "PRIMARY", Columns: []string{"order_id", "product_id"}},
	}, result.UniqueKeys)
	assert.Empty(t, result.SingleColumnUnique(), "a composite key makes no single column unique")
}

func TestScanConcurrentColumnsKeepCatalogOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(false)

	scanner := NewScanner(nil, newTestLogger())
	scanner.ColumnConcurrency = 4

	f := faker.New()
	names := make([]string, 12)
	tableRows := sqlmock.NewRows(tableColumns)
	for i := range names {
		names[i] = fmt.Sprintf("%s_%d", f.Lorem().Word(), i)
		tableRows.AddRow(names[i], "", int64(i))
	}

	mock.ExpectQuery("FROM information_schema.TABLES").WillReturnRows(tableRows)
	for _, name := range names {
		mock.ExpectQuery("FROM information_schema.COLUMNS").
			WithArgs("shop", name).
			WillReturnRows(sqlmock.NewRows(columnColumns).
				AddRow("id", "int", "NO", "", nil, int64(1)).
				AddRow(name+"_label", "varchar", "YES", "", int64(10), int64(0)))
	}
	mock.ExpectQuery("FROM information_schema.STATISTICS").WillReturnRows(sqlmock.NewRows(uniqueColumns))
	mock.ExpectQuery("FROM information_schema.KEY_COLUMN_USAGE").WillReturnRows(sqlmock.NewRows(fkColumns))

	result, err := scanner.ScanSchema(context.Background(), db, "shop")
	require.NoError(t, err)

	require.Len(t, result.Tables, len(names))
	for i, table := range result.Tables {
		assert.Equal(t, names[i], table.TableName)
		assert.Equal(t, []string{"id", names[i] + "_label"}, columnNames(table))
	}
}

func TestFormatDataType(t *testing.T) {
	tests := []struct {
		dataType string
		length   sql.NullInt64
		want     string
	}{
		{"varchar", sql.NullInt64{Int64: 255, Valid: true}, "varchar(255)"},
		{"VARCHAR", sql.NullInt64{Int64: 16, Valid: true}, "varchar(16)"},
		{"varchar", sql.NullInt64{}, "varchar"},
		{"char", sql.NullInt64{Int64: 2, Valid: true}, "char"},
		{"text", sql.NullInt64{Int64: 65535, Valid: true}, "text"},
		{"int", sql.NullInt64{}, "int"},
	}

	for _, tt := range tests {
		t.Run(tt.dataType, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDataType(tt.dataType, tt.length))
		})
	}
}

func TestNormalizeTable(t *testing.T) {
	table := NormalizeTable(RawTable{Name: "memberships"}, []RawColumn{
		{Name: "a", DataType: "int", IsNullable: "NO", IsPrimary: true},
		{Name: "note", DataType: "text", IsNullable: "YES"},
		{Name: "b", DataType: "int", IsNullable: "NO", IsPrimary: true},
	})

	assert.Equal(t, "a,b", table.PrimaryKey)
	assert.Equal(t, []string{"a", "b"}, PrimaryKeyColumns(table))
	assert.True(t, table.Columns[1].IsNullable)
	assert.NoError(t, ValidateTable(table))

	table.PrimaryKey = "a,missing"
	assert.Error(t, ValidateTable(table))

	empty := NormalizeTable(RawTable{Name: "empty"}, nil)
	assert.Equal(t, "", empty.PrimaryKey)
	assert.NotNil(t, empty.Columns)
	assert.Nil(t, PrimaryKeyColumns(empty))
}

func columnNames(table models.TableDescriptor) []string {
	names := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		names[i] = col.ColumnName
	}
	return names
}
