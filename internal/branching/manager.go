package branching

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"branchlab/internal/controlplane"
	"branchlab/internal/models"
)

// PollInterval is how often the manager re-lists endpoints (and re-reads
// branch state) while waiting for the service to finish provisioning.
// Provisioning latency is small and roughly constant, so the interval is
// fixed rather than backed off.
const PollInterval = 10 * time.Second

// createTimeout bounds the wait for a branch to leave the 'creating' state.
const createTimeout = 5 * time.Minute

// ControlPlane is the slice of the administrative API the manager consumes.
// *controlplane.Client implements it; tests substitute an in-memory fake.
type ControlPlane interface {
	GetBranch(ctx context.Context, project, branchID string) (*models.Branch, error)
	CreateBranch(ctx context.Context, project string, req models.CreateBranchRequest) (*models.Branch, error)
	DeleteBranch(ctx context.Context, project, branchID string) error
	ListEndpoints(ctx context.Context, project, branchID string) ([]models.Endpoint, error)
	GenerateCredential(ctx context.Context, project, branchID, endpoint string) (*models.Credential, error)
}

type DialFunc func(ctx context.Context, dsn string) (DataConn, error)

type SleepFunc func(ctx context.Context, d time.Duration) error

// Manager turns a branch id into a working database session, masking the
// asynchronous provisioning of branch compute, and wraps branch create/delete
// with the guard rails the scenario flows rely on.
type Manager struct {
	cp      ControlPlane
	project string
	sslMode string
	dial    DialFunc
	sleep   SleepFunc
	log     *logrus.Logger
}

type Options struct {
	Project string
	SSLMode string // defaults to "require"; the mock data plane needs "disable"
	Logger  *logrus.Logger
	Dial    DialFunc  // defaults to a pgx connect
	Sleep   SleepFunc // defaults to a context-aware time.Sleep
}

func NewManager(cp ControlPlane, opts Options) *Manager {
	m := &Manager{
		cp:      cp,
		project: opts.Project,
		sslMode: opts.SSLMode,
		dial:    opts.Dial,
		sleep:   opts.Sleep,
		log:     opts.Logger,
	}
	if m.sslMode == "" {
		m.sslMode = "require"
	}
	if m.dial == nil {
		m.dial = pgxDial
	}
	if m.sleep == nil {
		m.sleep = sleepContext
	}
	if m.log == nil {
		m.log = logrus.StandardLogger()
	}
	return m
}

// OpenSession resolves the branch's endpoint, minting a fresh credential and
// connecting once one is present. If no endpoint exists yet it re-lists every
// PollInterval up to maxWait; zero endpoints at the deadline is fatal to the
// caller's workflow step. Either a usable session is returned or an error,
// never a half-initialized session.
func (m *Manager) OpenSession(ctx context.Context, branchID string, maxWait time.Duration) (*Session, error) {
	endpoints, err := m.cp.ListEndpoints(ctx, m.project, branchID)
	if err != nil {
		return nil, err
	}

	var waited time.Duration
	for len(endpoints) == 0 {
		if waited >= maxWait {
			return nil, &EndpointUnavailableError{BranchID: branchID, Waited: waited}
		}
		m.log.WithFields(logrus.Fields{
			"branch": branchID,
			"waited": waited.String(),
		}).Info("waiting for branch endpoint")

		if err := m.sleep(ctx, PollInterval); err != nil {
			return nil, err
		}
		waited += PollInterval

		endpoints, err = m.cp.ListEndpoints(ctx, m.project, branchID)
		if err != nil {
			return nil, err
		}
	}

	ep := endpoints[0]

	cred, err := m.cp.GenerateCredential(ctx, m.project, branchID, ep.Name)
	if err != nil {
		return nil, &CredentialError{Endpoint: ep.Name, Err: err}
	}

	conn, err := m.dial(ctx, sessionDSN(ep, cred, m.sslMode))
	if err != nil {
		return nil, &ConnectionError{BranchID: branchID, Host: ep.Addr(), Err: err}
	}

	m.log.WithFields(logrus.Fields{
		"branch":   branchID,
		"endpoint": ep.Name,
		"host":     ep.Host,
	}).Info("session opened")

	return &Session{
		Branch:   branchID,
		Endpoint: ep.Name,
		Host:     ep.Host,
		conn:     conn,
	}, nil
}

// CloseSession releases the session. Idempotent; see Session.Close.
func (m *Manager) CloseSession(ctx context.Context, s *Session) error {
	return s.Close(ctx)
}

type CreateBranchOptions struct {
	Source     string
	SourceTime *time.Time // past instant for point-in-time branches; validated by the service, not here
	TTL        time.Duration
}

// CreateBranch creates a branch, first removing any existing branch of the
// same id so demo flows are safe to re-run without manual cleanup. Prior
// state under a reused id is discarded deliberately. The call blocks until
// the service reports the branch out of the 'creating' state.
func (m *Manager) CreateBranch(ctx context.Context, branchID string, opts CreateBranchOptions) (*models.Branch, error) {
	existing, err := m.cp.GetBranch(ctx, m.project, branchID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Default {
			return nil, &DefaultBranchProtectedError{BranchID: branchID}
		}
		m.log.WithField("branch", branchID).Info("removing existing branch before re-create")
		err := m.cp.DeleteBranch(ctx, m.project, branchID)
		// A concurrent expiry between the existence check and the delete
		// is the one failure treated as success.
		if err != nil && !controlplane.IsNotFound(err) {
			return nil, &BranchDeletionFailedError{BranchID: branchID, Err: err}
		}
	}

	req := models.CreateBranchRequest{
		BranchID:     branchID,
		SourceBranch: opts.Source,
		SourceTime:   opts.SourceTime,
	}
	if opts.TTL > 0 {
		req.TTLSeconds = int64(opts.TTL.Seconds())
	}

	branch, err := m.cp.CreateBranch(ctx, m.project, req)
	if err != nil {
		return nil, err
	}

	var waited time.Duration
	for branch.State == models.BranchStateCreating {
		if waited >= createTimeout {
			return nil, fmt.Errorf("branch %q still creating after %s", branchID, waited)
		}
		if err := m.sleep(ctx, PollInterval); err != nil {
			return nil, err
		}
		waited += PollInterval

		branch, err = m.cp.GetBranch(ctx, m.project, branchID)
		if err != nil {
			return nil, err
		}
		if branch == nil {
			return nil, fmt.Errorf("branch %q disappeared while creating", branchID)
		}
	}

	m.log.WithFields(logrus.Fields{
		"branch": branchID,
		"source": opts.Source,
	}).Info("branch created")

	return branch, nil
}

// DeleteBranch deletes a branch by id. The default branch is guarded here so
// callers get a clear error instead of an opaque service rejection. Failures
// are surfaced, never retried.
func (m *Manager) DeleteBranch(ctx context.Context, branchID string) error {
	branch, err := m.cp.GetBranch(ctx, m.project, branchID)
	if err != nil {
		return err
	}
	if branch == nil {
		return &BranchDeletionFailedError{BranchID: branchID, Err: errors.New("branch not found")}
	}
	if branch.Default {
		return &DefaultBranchProtectedError{BranchID: branchID}
	}

	if err := m.cp.DeleteBranch(ctx, m.project, branchID); err != nil {
		return &BranchDeletionFailedError{BranchID: branchID, Err: err}
	}

	m.log.WithField("branch", branchID).Info("branch deleted")
	return nil
}

func sessionDSN(ep models.Endpoint, cred *models.Credential, sslMode string) string {
	userInfo := url.UserPassword(cred.User, cred.Token)
	return fmt.Sprintf(
		"postgres://%s@%s:%d/%s?sslmode=%s",
		userInfo.String(),
		ep.Host,
		ep.Port,
		url.PathEscape(ep.Database),
		sslMode,
	)
}

func pgxDial(ctx context.Context, dsn string) (DataConn, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
