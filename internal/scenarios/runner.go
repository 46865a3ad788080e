package scenarios

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"branchlab/internal/branching"
	"branchlab/internal/config"
	"branchlab/internal/controlplane"
	"branchlab/internal/models"
)

// Runner executes the branching walkthroughs. Each scenario is a sequential,
// single-threaded flow: create or locate branches, open sessions through the
// manager, run SQL, verify, tear down. Scenarios verify their own claims and
// fail loudly when isolation or recovery doesn't hold.
type Runner struct {
	cp  *controlplane.Client
	mgr *branching.Manager
	cfg *config.Config
	log *logrus.Logger
	out io.Writer
}

func NewRunner(cp *controlplane.Client, mgr *branching.Manager, cfg *config.Config, log *logrus.Logger) *Runner {
	return &Runner{
		cp:  cp,
		mgr: mgr,
		cfg: cfg,
		log: log,
		out: os.Stdout,
	}
}

// SetOutput redirects report tables; tests use this to keep output quiet.
func (r *Runner) SetOutput(w io.Writer) { r.out = w }

// defaultBranch resolves the project's default (production) branch id.
func (r *Runner) defaultBranch(ctx context.Context) (string, error) {
	branches, err := r.cp.ListBranches(ctx, r.cfg.Project)
	if err != nil {
		return "", err
	}
	for _, b := range branches {
		if b.Default {
			return b.BranchID, nil
		}
	}
	return "", fmt.Errorf("project %q has no default branch", r.cfg.Project)
}

func (r *Runner) openSession(ctx context.Context, branchID string) (*branching.Session, error) {
	return r.mgr.OpenSession(ctx, branchID, r.cfg.MaxWait)
}

func (r *Runner) closeSession(ctx context.Context, sess *branching.Session) {
	if err := r.mgr.CloseSession(ctx, sess); err != nil {
		r.log.WithError(err).Warn("failed to close session")
	}
}

// ensureProject creates the project if it does not exist yet and returns it.
func (r *Runner) ensureProject(ctx context.Context) (*models.Project, error) {
	project, err := r.cp.GetProject(ctx, r.cfg.Project)
	if err != nil {
		return nil, err
	}
	if project != nil {
		r.log.WithField("project", project.Name).Info("project already exists")
		return project, nil
	}

	r.log.WithField("project", r.cfg.Project).Info("creating project")
	return r.cp.CreateProject(ctx, models.CreateProjectRequest{
		Name:                  r.cfg.Project,
		PGVersion:             17,
		MinCU:                 r.cfg.MinCU,
		MaxCU:                 r.cfg.MaxCU,
		SuspendTimeoutSeconds: r.cfg.SuspendTimeoutSeconds,
	})
}
