package scenarios

import (
	"context"
	"fmt"

	"github.com/olekukonko/tablewriter"

	"branchlab/internal/branching"
	"branchlab/internal/seed"
)

// printCounts renders the per-table row counts in the canonical table order.
func (r *Runner) printCounts(title string, counts map[string]int64) {
	fmt.Fprintf(r.out, "\n%s\n", title)
	table := tablewriter.NewWriter(r.out)
	table.Header("Table", "Rows")
	for _, name := range seed.Tables {
		table.Append(name, fmt.Sprintf("%d", counts[name]))
	}
	table.Render()
}

// printComparison renders two branches' row counts side by side with a
// match marker per table.
func (r *Runner) printComparison(title, left, right string, a, b map[string]int64) {
	fmt.Fprintf(r.out, "\n%s\n", title)
	table := tablewriter.NewWriter(r.out)
	table.Header("Table", left, right, "Match")
	for _, name := range seed.Tables {
		match := "yes"
		if a[name] != b[name] {
			match = "NO"
		}
		table.Append(name, fmt.Sprintf("%d", a[name]), fmt.Sprintf("%d", b[name]), match)
	}
	table.Render()
}

// printColumns renders the column list of a table on one or more branches.
func (r *Runner) printColumns(title string, branches []string, columns map[string][]string) {
	fmt.Fprintf(r.out, "\n%s\n", title)
	table := tablewriter.NewWriter(r.out)
	table.Header("Branch", "Columns")
	for _, b := range branches {
		table.Append(b, fmt.Sprintf("%v", columns[b]))
	}
	table.Render()
}

// tableColumns lists the ordered column names of schema.table on a session.
func (r *Runner) tableColumns(ctx context.Context, sess *branching.Session, tableName string) ([]string, error) {
	rows, err := sess.Query(ctx, `
		SELECT column_name FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, r.cfg.Schema, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}

func (r *Runner) hasColumn(ctx context.Context, sess *branching.Session, tableName, column string) (bool, error) {
	columns, err := r.tableColumns(ctx, sess, tableName)
	if err != nil {
		return false, err
	}
	for _, c := range columns {
		if c == column {
			return true, nil
		}
	}
	return false, nil
}

func (r *Runner) countRows(ctx context.Context, sess *branching.Session, tableName string) (int64, error) {
	var n int64
	err := sess.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s.%s", r.cfg.Schema, tableName)).Scan(&n)
	return n, err
}

func (r *Runner) rowCounts(ctx context.Context, sess *branching.Session) (map[string]int64, error) {
	return seed.RowCounts(ctx, sess, r.cfg.Schema)
}
