package scenarios

import (
	"context"
	"fmt"
	"time"

	"branchlab/internal/branching"
)

const (
	priorityBranch   = "feature-order-priority"
	priorityBranchV2 = "feature-order-priority-v2"
)

// Concurrent shows two streams of work evolving independently: a feature
// branch adds a column while another change lands directly on production.
// The branch does not see the production change, and a fresh branch cut
// afterwards sees the production change but not the feature work.
func (r *Runner) Concurrent(ctx context.Context) error {
	prod, err := r.defaultBranch(ctx)
	if err != nil {
		return err
	}

	if _, err := r.mgr.CreateBranch(ctx, priorityBranch, branching.CreateBranchOptions{
		Source: prod,
		TTL:    48 * time.Hour,
	}); err != nil {
		return err
	}

	featSess, err := r.openSession(ctx, priorityBranch)
	if err != nil {
		return err
	}
	defer r.closeSession(ctx, featSess)

	if _, err := featSess.Exec(ctx, fmt.Sprintf(
		"ALTER TABLE %s.orders ADD COLUMN IF NOT EXISTS priority VARCHAR(10) DEFAULT 'normal'", r.cfg.Schema)); err != nil {
		return err
	}
	r.log.WithField("branch", priorityBranch).Info("added orders.priority on feature branch")

	// Meanwhile a different team ships straight to production.
	prodSess, err := r.openSession(ctx, prod)
	if err != nil {
		return err
	}
	defer r.closeSession(ctx, prodSess)

	if _, err := prodSess.Exec(ctx, fmt.Sprintf(
		"ALTER TABLE %s.customers ADD COLUMN IF NOT EXISTS email_verified BOOLEAN DEFAULT false", r.cfg.Schema)); err != nil {
		return err
	}
	r.log.WithField("branch", prod).Info("added customers.email_verified on production")

	featOrders, err := r.tableColumns(ctx, featSess, "orders")
	if err != nil {
		return err
	}
	prodOrders, err := r.tableColumns(ctx, prodSess, "orders")
	if err != nil {
		return err
	}
	featCustomers, err := r.tableColumns(ctx, featSess, "customers")
	if err != nil {
		return err
	}
	prodCustomers, err := r.tableColumns(ctx, prodSess, "customers")
	if err != nil {
		return err
	}
	r.printColumns("orders columns", []string{priorityBranch, prod}, map[string][]string{
		priorityBranch: featOrders,
		prod:           prodOrders,
	})
	r.printColumns("customers columns", []string{priorityBranch, prod}, map[string][]string{
		priorityBranch: featCustomers,
		prod:           prodCustomers,
	})

	if contains(prodOrders, "priority") {
		return fmt.Errorf("feature column leaked into production orders")
	}
	if contains(featCustomers, "email_verified") {
		return fmt.Errorf("production change appeared on frozen branch %s", priorityBranch)
	}

	// A branch cut now starts from the updated production head.
	if _, err := r.mgr.CreateBranch(ctx, priorityBranchV2, branching.CreateBranchOptions{
		Source: prod,
		TTL:    48 * time.Hour,
	}); err != nil {
		return err
	}

	v2Sess, err := r.openSession(ctx, priorityBranchV2)
	if err != nil {
		return err
	}
	defer r.closeSession(ctx, v2Sess)

	hasVerified, err := r.hasColumn(ctx, v2Sess, "customers", "email_verified")
	if err != nil {
		return err
	}
	hasPriority, err := r.hasColumn(ctx, v2Sess, "orders", "priority")
	if err != nil {
		return err
	}
	if !hasVerified {
		return fmt.Errorf("%s missing email_verified from its production parent", priorityBranchV2)
	}
	if hasPriority {
		return fmt.Errorf("%s inherited priority from a sibling branch", priorityBranchV2)
	}

	fmt.Fprintf(r.out, "\n%q froze at creation time; %q picked up the newer production head.\n",
		priorityBranch, priorityBranchV2)
	return nil
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
