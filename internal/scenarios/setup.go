package scenarios

import (
	"context"
	"fmt"

	"github.com/olekukonko/tablewriter"

	"branchlab/internal/branching"
	"branchlab/internal/seed"
)

// Setup provisions the project if needed, connects to the default branch and
// loads the e-commerce sample dataset. Re-running it rebuilds the schema from
// scratch, so it doubles as a reset.
func (r *Runner) Setup(ctx context.Context) error {
	if _, err := r.ensureProject(ctx); err != nil {
		return err
	}

	prod, err := r.defaultBranch(ctx)
	if err != nil {
		return err
	}

	sess, err := r.openSession(ctx, prod)
	if err != nil {
		return err
	}
	defer r.closeSession(ctx, sess)

	r.log.WithField("schema", r.cfg.Schema).Info("seeding sample dataset")
	if err := seed.Apply(ctx, sess, r.cfg.Schema); err != nil {
		return fmt.Errorf("seed %s branch: %w", prod, err)
	}

	counts, err := r.rowCounts(ctx, sess)
	if err != nil {
		return err
	}
	r.printCounts(fmt.Sprintf("Seeded %q on branch %q", r.cfg.Schema, prod), counts)

	return r.printOrderStatuses(ctx, sess)
}

// printOrderStatuses gives a quick sanity view of the seeded orders.
func (r *Runner) printOrderStatuses(ctx context.Context, sess *branching.Session) error {
	rows, err := sess.Query(ctx, fmt.Sprintf(`
		SELECT status, count(*), round(sum(total), 2)
		FROM %s.orders GROUP BY status ORDER BY status`, r.cfg.Schema))
	if err != nil {
		return err
	}
	defer rows.Close()

	table := tablewriter.NewWriter(r.out)
	table.Header("Status", "Orders", "Total")
	for rows.Next() {
		var (
			status string
			count  int64
			total  float64
		)
		if err := rows.Scan(&status, &count, &total); err != nil {
			return err
		}
		table.Append(status, fmt.Sprintf("%d", count), fmt.Sprintf("%.2f", total))
	}
	if err := rows.Err(); err != nil {
		return err
	}
	fmt.Fprintln(r.out, "\nOrder status distribution")
	table.Render()
	return nil
}
