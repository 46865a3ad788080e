package scenarios

import (
	"context"
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"

	"branchlab/internal/branching"
)

const loyaltyBranch = "feature-loyalty-tier"

// SchemaToProd walks a schema migration through a branch: develop and validate
// the change against a full copy of production data, then replay the same SQL
// on the default branch once it checks out.
func (r *Runner) SchemaToProd(ctx context.Context) error {
	prod, err := r.defaultBranch(ctx)
	if err != nil {
		return err
	}

	if _, err := r.mgr.CreateBranch(ctx, loyaltyBranch, branching.CreateBranchOptions{
		Source: prod,
		TTL:    7 * 24 * time.Hour,
	}); err != nil {
		return err
	}

	sess, err := r.openSession(ctx, loyaltyBranch)
	if err != nil {
		return err
	}
	defer r.closeSession(ctx, sess)

	migration := r.loyaltyMigration()
	r.log.WithField("branch", loyaltyBranch).Info("applying migration on branch")
	if _, err := sess.Exec(ctx, migration); err != nil {
		return fmt.Errorf("migration on %s: %w", loyaltyBranch, err)
	}

	if err := r.validateLoyaltyTiers(ctx, sess, loyaltyBranch); err != nil {
		return err
	}

	// Production must still be on the old schema at this point.
	prodSess, err := r.openSession(ctx, prod)
	if err != nil {
		return err
	}
	defer r.closeSession(ctx, prodSess)

	onProd, err := r.hasColumn(ctx, prodSess, "customers", "loyalty_tier")
	if err != nil {
		return err
	}
	if onProd {
		return fmt.Errorf("loyalty_tier already present on %s before replay", prod)
	}

	r.log.WithField("branch", prod).Info("replaying validated migration on production")
	if _, err := prodSess.Exec(ctx, migration); err != nil {
		return fmt.Errorf("migration on %s: %w", prod, err)
	}
	return r.validateLoyaltyTiers(ctx, prodSess, prod)
}

// loyaltyMigration adds a tier column and backfills it from lifetime spend.
// The same statement runs on the branch first and on production after review.
func (r *Runner) loyaltyMigration() string {
	return fmt.Sprintf(`
		ALTER TABLE %[1]s.customers ADD COLUMN IF NOT EXISTS loyalty_tier VARCHAR(20) DEFAULT 'bronze';

		UPDATE %[1]s.customers c SET loyalty_tier = CASE
			WHEN spend.total >= 1000 THEN 'gold'
			WHEN spend.total >= 500 THEN 'silver'
			ELSE 'bronze'
		END
		FROM (
			SELECT customer_id, COALESCE(sum(total), 0) AS total
			FROM %[1]s.orders GROUP BY customer_id
		) spend
		WHERE spend.customer_id = c.id;
	`, r.cfg.Schema)
}

func (r *Runner) validateLoyaltyTiers(ctx context.Context, sess *branching.Session, branchID string) error {
	var missing int64
	if err := sess.QueryRow(ctx, fmt.Sprintf(
		"SELECT count(*) FROM %s.customers WHERE loyalty_tier IS NULL", r.cfg.Schema)).Scan(&missing); err != nil {
		return err
	}
	if missing != 0 {
		return fmt.Errorf("%d customers without loyalty_tier on %s", missing, branchID)
	}

	rows, err := sess.Query(ctx, fmt.Sprintf(
		"SELECT loyalty_tier, count(*) FROM %s.customers GROUP BY loyalty_tier ORDER BY loyalty_tier", r.cfg.Schema))
	if err != nil {
		return err
	}
	defer rows.Close()

	table := tablewriter.NewWriter(r.out)
	table.Header("Tier", "Customers")
	for rows.Next() {
		var (
			tier  string
			count int64
		)
		if err := rows.Scan(&tier, &count); err != nil {
			return err
		}
		table.Append(tier, fmt.Sprintf("%d", count))
	}
	if err := rows.Err(); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "\nLoyalty tiers on %q\n", branchID)
	table.Render()
	return nil
}
