package scenarios

import (
	"context"
	"errors"
	"fmt"

	"github.com/olekukonko/tablewriter"

	"branchlab/internal/branching"
)

// Cleanup deletes every non-default branch in the project. With deleteProject
// set it removes the project itself afterwards. The default branch is never
// deleted directly; it goes away only with the project.
func (r *Runner) Cleanup(ctx context.Context, deleteProject bool) error {
	project, err := r.cp.GetProject(ctx, r.cfg.Project)
	if err != nil {
		return err
	}
	if project == nil {
		r.log.WithField("project", r.cfg.Project).Info("project does not exist, nothing to clean up")
		return nil
	}

	branches, err := r.cp.ListBranches(ctx, r.cfg.Project)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(r.out)
	table.Header("Branch", "Action")
	var failures []string
	for _, b := range branches {
		if b.Default {
			table.Append(b.BranchID, "kept (default)")
			continue
		}
		if err := r.mgr.DeleteBranch(ctx, b.BranchID); err != nil {
			var protected *branching.DefaultBranchProtectedError
			if errors.As(err, &protected) {
				table.Append(b.BranchID, "kept (default)")
				continue
			}
			failures = append(failures, b.BranchID)
			table.Append(b.BranchID, fmt.Sprintf("FAILED: %v", err))
			continue
		}
		table.Append(b.BranchID, "deleted")
	}
	fmt.Fprintln(r.out, "\nBranch cleanup")
	table.Render()

	if len(failures) > 0 {
		return fmt.Errorf("failed to delete branches: %v", failures)
	}

	if deleteProject {
		r.log.WithField("project", r.cfg.Project).Warn("deleting project")
		return r.cp.DeleteProject(ctx, r.cfg.Project)
	}
	return nil
}
