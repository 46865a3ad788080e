package scenarios

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"branchlab/internal/branching"
)

const recoveryBranch = "recovery-branch"

// PointInTime walks a disaster and its recovery: record a restore point, lose
// data to a bad delete, branch production as of the restore point and copy the
// lost rows back. Sessions are closed around the checkpoint and branch calls
// because cloning terminates open backends on the source database.
func (r *Runner) PointInTime(ctx context.Context) error {
	prod, err := r.defaultBranch(ctx)
	if err != nil {
		return err
	}

	sess, err := r.openSession(ctx, prod)
	if err != nil {
		return err
	}
	before, err := r.rowCounts(ctx, sess)
	if err != nil {
		r.closeSession(ctx, sess)
		return err
	}
	r.closeSession(ctx, sess)
	r.printCounts("Production before the incident", before)

	safeTime, err := r.cp.CheckpointBranch(ctx, r.cfg.Project, prod)
	if err != nil {
		return err
	}
	r.log.WithField("restore_point", safeTime.Format(time.RFC3339)).Info("recorded restore point")

	// The incident: a cleanup script with a wrong predicate.
	sess, err = r.openSession(ctx, prod)
	if err != nil {
		return err
	}
	if err := r.breakProduction(ctx, sess); err != nil {
		r.closeSession(ctx, sess)
		return err
	}
	broken, err := r.rowCounts(ctx, sess)
	if err != nil {
		r.closeSession(ctx, sess)
		return err
	}
	r.closeSession(ctx, sess)
	r.printComparison("Damage report", "before", "after", before, broken)

	if _, err := r.mgr.CreateBranch(ctx, recoveryBranch, branching.CreateBranchOptions{
		Source:     prod,
		SourceTime: &safeTime,
		TTL:        24 * time.Hour,
	}); err != nil {
		return err
	}

	recSess, err := r.openSession(ctx, recoveryBranch)
	if err != nil {
		return err
	}
	defer r.closeSession(ctx, recSess)

	recovered, err := r.rowCounts(ctx, recSess)
	if err != nil {
		return err
	}
	r.printComparison("Recovery branch vs pre-incident state", recoveryBranch, "before", recovered, before)
	for name, n := range before {
		if recovered[name] != n {
			return fmt.Errorf("recovery branch is missing data: %s has %d rows, want %d", name, recovered[name], n)
		}
	}

	prodSess, err := r.openSession(ctx, prod)
	if err != nil {
		return err
	}
	defer r.closeSession(ctx, prodSess)

	if err := r.restoreLostRows(ctx, recSess, prodSess); err != nil {
		return err
	}

	after, err := r.rowCounts(ctx, prodSess)
	if err != nil {
		return err
	}
	r.printComparison("Production after restore", "restored", "before", after, before)
	for name, n := range before {
		if after[name] != n {
			return fmt.Errorf("restore incomplete: %s has %d rows, want %d", name, after[name], n)
		}
	}

	fmt.Fprintf(r.out, "\nProduction restored; branch %q can be kept for audit until its TTL.\n", recoveryBranch)
	return nil
}

// breakProduction deletes every customer above id 50 along with their orders.
func (r *Runner) breakProduction(ctx context.Context, sess *branching.Session) error {
	statements := []string{
		fmt.Sprintf(`DELETE FROM %[1]s.order_items WHERE order_id IN
			(SELECT id FROM %[1]s.orders WHERE customer_id > 50)`, r.cfg.Schema),
		fmt.Sprintf("DELETE FROM %s.orders WHERE customer_id > 50", r.cfg.Schema),
		fmt.Sprintf("DELETE FROM %s.customers WHERE id > 50", r.cfg.Schema),
	}
	for _, stmt := range statements {
		if _, err := sess.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	r.log.Warn("simulated incident: deleted customers with id > 50")
	return nil
}

// restoreLostRows copies the deleted rows from the recovery branch back into
// production, parents before children, skipping anything already present.
func (r *Runner) restoreLostRows(ctx context.Context, from, to *branching.Session) error {
	customers, err := from.Query(ctx, fmt.Sprintf(
		"SELECT id, name, email, created_at FROM %s.customers WHERE id > 50 ORDER BY id", r.cfg.Schema))
	if err != nil {
		return err
	}
	restored := 0
	for customers.Next() {
		var (
			id        int64
			name      string
			email     string
			createdAt time.Time
		)
		if err := customers.Scan(&id, &name, &email, &createdAt); err != nil {
			customers.Close()
			return err
		}
		if _, err := to.Exec(ctx, fmt.Sprintf(`INSERT INTO %s.customers (id, name, email, created_at)
			VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`, r.cfg.Schema),
			id, name, email, createdAt); err != nil {
			customers.Close()
			return err
		}
		restored++
	}
	customers.Close()
	if err := customers.Err(); err != nil {
		return err
	}

	orders, err := from.Query(ctx, fmt.Sprintf(
		"SELECT id, customer_id, status, total, created_at FROM %s.orders WHERE customer_id > 50 ORDER BY id", r.cfg.Schema))
	if err != nil {
		return err
	}
	var orderIDs []int64
	for orders.Next() {
		var (
			id         int64
			customerID int64
			status     string
			total      float64
			createdAt  time.Time
		)
		if err := orders.Scan(&id, &customerID, &status, &total, &createdAt); err != nil {
			orders.Close()
			return err
		}
		if _, err := to.Exec(ctx, fmt.Sprintf(`INSERT INTO %s.orders (id, customer_id, status, total, created_at)
			VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`, r.cfg.Schema),
			id, customerID, status, total, createdAt); err != nil {
			orders.Close()
			return err
		}
		orderIDs = append(orderIDs, id)
	}
	orders.Close()
	if err := orders.Err(); err != nil {
		return err
	}

	items, err := from.Query(ctx, fmt.Sprintf(`SELECT i.id, i.order_id, i.product_id, i.quantity, i.unit_price
		FROM %[1]s.order_items i
		JOIN %[1]s.orders o ON o.id = i.order_id
		WHERE o.customer_id > 50 ORDER BY i.id`, r.cfg.Schema))
	if err != nil {
		return err
	}
	for items.Next() {
		var (
			id        int64
			orderID   int64
			productID int64
			quantity  int32
			unitPrice float64
		)
		if err := items.Scan(&id, &orderID, &productID, &quantity, &unitPrice); err != nil {
			items.Close()
			return err
		}
		if _, err := to.Exec(ctx, fmt.Sprintf(`INSERT INTO %s.order_items (id, order_id, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`, r.cfg.Schema),
			id, orderID, productID, quantity, unitPrice); err != nil {
			items.Close()
			return err
		}
	}
	items.Close()
	if err := items.Err(); err != nil {
		return err
	}

	// Re-inserting explicit ids leaves the sequences behind; bump them.
	for _, tableName := range []string{"customers", "orders", "order_items"} {
		if _, err := to.Exec(ctx, fmt.Sprintf(
			`SELECT setval(pg_get_serial_sequence('%[1]s.%[2]s', 'id'), (SELECT max(id) FROM %[1]s.%[2]s))`,
			r.cfg.Schema, tableName)); err != nil {
			return err
		}
	}

	r.log.WithFields(logrus.Fields{
		"customers": restored,
		"orders":    len(orderIDs),
	}).Info("restored rows from recovery branch")
	return nil
}
