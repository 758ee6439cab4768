package utils

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/vitebski/mysql-model-detector/internal/analyzer"
	"github.com/vitebski/mysql-model-detector/pkg/models"
)

// PrintConnectionResult prints the outcome of a registry operation
func PrintConnectionResult(w io.Writer, result models.ConnectionResult) {
	if result.Success {
		fmt.Fprintf(w, "✅ %s\n", result.Message)
		return
	}
	fmt.Fprintf(w, "❌ %s\n", result.Message)
	if result.Error != "" && result.Error != result.Message {
		fmt.Fprintf(w, "   %s\n", result.Error)
	}
}

// PrintScanResult prints every scanned table with its columns
func PrintScanResult(w io.Writer, scan models.ScanResult) {
	unique := scan.UniqueSet()

	for _, tbl := range scan.Tables {
		title := tbl.TableName
		if tbl.TableComment != "" {
			title = fmt.Sprintf("%s (%s)", tbl.TableName, tbl.TableComment)
		}

		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleLight)
		t.SetTitle(title)
		t.AppendHeader(table.Row{"Column", "Type", "Nullable", "Key", "Comment"})
		for _, col := range tbl.Columns {
			t.AppendRow(table.Row{col.ColumnName, col.DataType, yesNo(col.IsNullable), columnKey(tbl, col, unique), col.ColumnComment})
		}
		t.Render()
	}

	fmt.Fprintf(w, "(%d tables, %d unique columns, %d declared foreign keys)\n",
		len(scan.Tables), len(scan.UniqueColumns), len(scan.DeclaredForeignKeys))
}

// PrintSchemaAnalysis prints the detected relationships and how they connect the tables
func PrintSchemaAnalysis(w io.Writer, metadata models.DatabaseMetadata) {
	graph := analyzer.NewRelationGraph(metadata.Tables, metadata.ForeignKeys)
	clusters := graph.Clusters()
	isolated := graph.Isolated()

	fmt.Fprintln(w, "\n"+strings.Repeat("=", 80))
	fmt.Fprintln(w, "DATABASE MODEL REPORT")
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "\n1. BASIC STATISTICS")
	fmt.Fprintf(w, "   Total tables: %d\n", len(metadata.Tables))
	fmt.Fprintf(w, "   Relationships: %d\n", len(metadata.ForeignKeys))
	fmt.Fprintf(w, "   Related table groups: %d\n", len(clusters))
	fmt.Fprintf(w, "   Isolated tables: %d\n", len(isolated))

	fmt.Fprintln(w, "\n2. RELATIONSHIPS")
	if len(metadata.ForeignKeys) == 0 {
		fmt.Fprintln(w, "   (none)")
	} else {
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Source", "Target", "Relation"})
		for _, fk := range metadata.ForeignKeys {
			t.AppendRow(table.Row{
				fk.SourceTableName + "." + fk.SourceColumnName,
				fk.TargetTableName + "." + fk.TargetColumnName,
				string(fk.RelationType),
			})
		}
		t.Render()
	}

	if len(clusters) > 0 {
		fmt.Fprintln(w, "\n3. RELATED TABLE GROUPS")
		for i, cluster := range clusters {
			fmt.Fprintf(w, "   %3d. %s\n", i+1, strings.Join(cluster, ", "))
		}
	}

	if len(isolated) > 0 {
		fmt.Fprintln(w, "\n4. ISOLATED TABLES")
		fmt.Fprintf(w, "   %s\n", strings.Join(isolated, ", "))
	}

	if cycles := graph.Cycles(); len(cycles) > 0 {
		fmt.Fprintln(w, "\n5. CIRCULAR REFERENCES")
		for _, cycle := range cycles {
			fmt.Fprintf(w, "   %s\n", strings.Join(cycle, " <-> "))
		}
	} else if order, ok := graph.LoadOrder(); ok {
		fmt.Fprintln(w, "\n5. PARENT-FIRST TABLE ORDER")
		for i, name := range order {
			fmt.Fprintf(w, "   %3d. %s\n", i+1, name)
		}
	}

	fmt.Fprintln(w, "\n"+strings.Repeat("=", 80))
}

// PrintRows prints the result of an ad-hoc statement
func PrintRows(w io.Writer, rows []map[string]interface{}) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "(0 rows)")
		return
	}

	cols := make([]string, 0, len(rows[0]))
	for col := range rows[0] {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	header := make(table.Row, len(cols))
	for i, col := range cols {
		header[i] = col
	}
	t.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(cols))
		for i, col := range cols {
			if row[col] == nil {
				r[i] = "NULL"
			} else {
				r[i] = row[col]
			}
		}
		t.AppendRow(r)
	}

	t.Render()
	fmt.Fprintf(w, "(%d rows)\n", len(rows))
}

func columnKey(tbl models.TableDescriptor, col models.ColumnDescriptor, unique map[models.UniqueColumnRef]bool) string {
	switch {
	case col.IsPrimary:
		return "PK"
	case col.IsForeignKey != nil && *col.IsForeignKey:
		return "FK"
	case unique[models.UniqueColumnRef{TableName: tbl.TableName, ColumnName: col.ColumnName}]:
		return "UNIQUE"
	default:
		return ""
	}
}

func yesNo(b bool) string {
	if b {
		return "YES"
	}
	return "NO"
}
