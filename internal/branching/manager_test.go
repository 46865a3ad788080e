package branching

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"branchlab/internal/controlplane"
	"branchlab/internal/models"
)

type fakeControlPlane struct {
	branches  map[string]*models.Branch
	endpoints map[string][]models.Endpoint

	// readyAfter delays endpoint visibility until N ListEndpoints calls.
	readyAfter int
	listCalls  int

	credErr   error
	credCalls int

	createCalls []models.CreateBranchRequest
	deleteCalls []string

	// creatingPolls makes freshly created branches report 'creating' for N
	// GetBranch calls before flipping to 'ready'.
	creatingPolls int
	getCalls      map[string]int
}

func newFakeControlPlane() *fakeControlPlane {
	return &fakeControlPlane{
		branches:  map[string]*models.Branch{},
		endpoints: map[string][]models.Endpoint{},
		getCalls:  map[string]int{},
	}
}

func (f *fakeControlPlane) GetBranch(_ context.Context, _, branchID string) (*models.Branch, error) {
	f.getCalls[branchID]++
	b, ok := f.branches[branchID]
	if !ok {
		return nil, nil
	}
	if b.State == models.BranchStateCreating && f.getCalls[branchID] > f.creatingPolls {
		b.State = models.BranchStateReady
	}
	copied := *b
	return &copied, nil
}

func (f *fakeControlPlane) CreateBranch(_ context.Context, project string, req models.CreateBranchRequest) (*models.Branch, error) {
	f.createCalls = append(f.createCalls, req)
	state := models.BranchStateReady
	if f.creatingPolls > 0 {
		state = models.BranchStateCreating
	}
	b := &models.Branch{
		BranchID:     req.BranchID,
		Project:      project,
		SourceBranch: req.SourceBranch,
		SourceTime:   req.SourceTime,
		TTLSeconds:   req.TTLSeconds,
		State:        state,
	}
	b.Prepare()
	f.branches[req.BranchID] = b
	f.getCalls[req.BranchID] = 0
	copied := *b
	return &copied, nil
}

func (f *fakeControlPlane) DeleteBranch(_ context.Context, _, branchID string) error {
	f.deleteCalls = append(f.deleteCalls, branchID)
	if _, ok := f.branches[branchID]; !ok {
		return &controlplane.APIError{Status: 404, Message: "branch not found"}
	}
	delete(f.branches, branchID)
	return nil
}

func (f *fakeControlPlane) ListEndpoints(_ context.Context, _, branchID string) ([]models.Endpoint, error) {
	f.listCalls++
	if f.listCalls <= f.readyAfter {
		return nil, nil
	}
	return f.endpoints[branchID], nil
}

func (f *fakeControlPlane) GenerateCredential(_ context.Context, _, _, endpoint string) (*models.Credential, error) {
	if f.credErr != nil {
		return nil, f.credErr
	}
	f.credCalls++
	return &models.Credential{
		User:      "demo@example.com",
		Token:     fmt.Sprintf("token-%d", f.credCalls),
		ExpiresAt: time.Now().Add(15 * time.Minute),
	}, nil
}

type fakeConn struct {
	dsn        string
	closeCalls int
}

func (c *fakeConn) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (c *fakeConn) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }

func (c *fakeConn) QueryRow(context.Context, string, ...any) pgx.Row { return nil }

func (c *fakeConn) Close(context.Context) error {
	c.closeCalls++
	return nil
}

type testHarness struct {
	cp     *fakeControlPlane
	mgr    *Manager
	sleeps []time.Duration
	conns  []*fakeConn
	dialed []string
}

func newHarness(t *testing.T, cp *fakeControlPlane) *testHarness {
	t.Helper()

	h := &testHarness{cp: cp}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	h.mgr = NewManager(cp, Options{
		Project: "lakebase-branching-demo",
		SSLMode: "disable",
		Logger:  log,
		Dial: func(_ context.Context, dsn string) (DataConn, error) {
			conn := &fakeConn{dsn: dsn}
			h.conns = append(h.conns, conn)
			h.dialed = append(h.dialed, dsn)
			return conn, nil
		},
		Sleep: func(_ context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return nil
		},
	})
	return h
}

func readyEndpoint(branchID string) models.Endpoint {
	return models.Endpoint{
		Name:     "ep-" + branchID,
		Host:     "ep-" + branchID + ".db.example.com",
		Port:     5432,
		Database: "demo",
		State:    models.EndpointStateReady,
	}
}

func TestOpenSessionImmediate(t *testing.T) {
	cp := newFakeControlPlane()
	cp.endpoints["dev-readonly"] = []models.Endpoint{readyEndpoint("dev-readonly")}
	h := newHarness(t, cp)

	sess, err := h.mgr.OpenSession(context.Background(), "dev-readonly", time.Minute)
	require.NoError(t, err)

	assert.Equal(t, "dev-readonly", sess.Branch)
	assert.Equal(t, "ep-dev-readonly", sess.Endpoint)
	assert.Equal(t, "ep-dev-readonly.db.example.com", sess.Host)
	assert.Empty(t, h.sleeps, "no suspension when an endpoint is already present")
	assert.Equal(t, 1, cp.credCalls)
}

func TestOpenSessionWaitsForEndpoint(t *testing.T) {
	cp := newFakeControlPlane()
	cp.endpoints["feature-x"] = []models.Endpoint{readyEndpoint("feature-x")}
	cp.readyAfter = 3
	h := newHarness(t, cp)

	sess, err := h.mgr.OpenSession(context.Background(), "feature-x", 5*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, sess)

	assert.Len(t, h.sleeps, 3)
	for _, d := range h.sleeps {
		assert.Equal(t, PollInterval, d)
	}
	// The credential is minted only after an endpoint was observed.
	assert.Equal(t, 4, cp.listCalls)
	assert.Equal(t, 1, cp.credCalls)
}

func TestOpenSessionTimesOut(t *testing.T) {
	cp := newFakeControlPlane()
	cp.readyAfter = 1 << 30 // endpoints never appear
	h := newHarness(t, cp)

	sess, err := h.mgr.OpenSession(context.Background(), "ghost", 30*time.Second)
	require.Error(t, err)
	assert.Nil(t, sess)

	var unavailable *EndpointUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "ghost", unavailable.BranchID)
	assert.Equal(t, 30*time.Second, unavailable.Waited)

	assert.Len(t, h.sleeps, 3, "waits in fixed intervals up to the budget")
	assert.Equal(t, 0, cp.credCalls, "no credential minted without an endpoint")
	assert.Empty(t, h.dialed, "no connection attempted without an endpoint")
}

func TestOpenSessionCredentialError(t *testing.T) {
	cp := newFakeControlPlane()
	cp.endpoints["dev"] = []models.Endpoint{readyEndpoint("dev")}
	cp.credErr = errors.New("permission denied")
	h := newHarness(t, cp)

	_, err := h.mgr.OpenSession(context.Background(), "dev", time.Minute)

	var credErr *CredentialError
	require.ErrorAs(t, err, &credErr)
	assert.Equal(t, "ep-dev", credErr.Endpoint)
	assert.ErrorContains(t, err, "permission denied")
	assert.Empty(t, h.dialed)
}

func TestOpenSessionConnectError(t *testing.T) {
	cp := newFakeControlPlane()
	cp.endpoints["dev"] = []models.Endpoint{readyEndpoint("dev")}

	cause := errors.New("tls handshake failed")
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	mgr := NewManager(cp, Options{
		Project: "lakebase-branching-demo",
		Logger:  log,
		Dial: func(context.Context, string) (DataConn, error) {
			return nil, cause
		},
		Sleep: func(context.Context, time.Duration) error { return nil },
	})

	_, err := mgr.OpenSession(context.Background(), "dev", time.Minute)

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "dev", connErr.BranchID)
	assert.ErrorIs(t, err, cause)
}

func TestOpenSessionMintsFreshCredentialEachTime(t *testing.T) {
	cp := newFakeControlPlane()
	cp.endpoints["dev"] = []models.Endpoint{readyEndpoint("dev")}
	h := newHarness(t, cp)

	_, err := h.mgr.OpenSession(context.Background(), "dev", time.Minute)
	require.NoError(t, err)
	_, err = h.mgr.OpenSession(context.Background(), "dev", time.Minute)
	require.NoError(t, err)

	assert.Equal(t, 2, cp.credCalls)
	require.Len(t, h.dialed, 2)
	assert.NotEqual(t, h.dialed[0], h.dialed[1], "each session carries its own token")
}

func TestCreateBranchReplacesExisting(t *testing.T) {
	cp := newFakeControlPlane()
	cp.branches["feature-x"] = &models.Branch{
		BranchID:     "feature-x",
		SourceBranch: "main",
		State:        models.BranchStateReady,
	}
	h := newHarness(t, cp)

	branch, err := h.mgr.CreateBranch(context.Background(), "feature-x", CreateBranchOptions{
		Source: "staging",
		TTL:    24 * time.Hour,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"feature-x"}, cp.deleteCalls)
	assert.Equal(t, "staging", branch.SourceBranch, "second call's parameters win")
	assert.Equal(t, int64(86400), branch.TTLSeconds)
	require.Len(t, cp.branches, 1)
}

func TestCreateBranchNewDoesNotDelete(t *testing.T) {
	cp := newFakeControlPlane()
	h := newHarness(t, cp)

	_, err := h.mgr.CreateBranch(context.Background(), "fresh", CreateBranchOptions{Source: "main"})
	require.NoError(t, err)

	assert.Empty(t, cp.deleteCalls)
}

func TestCreateBranchDefaultProtected(t *testing.T) {
	cp := newFakeControlPlane()
	cp.branches["main"] = &models.Branch{
		BranchID: "main",
		Default:  true,
		State:    models.BranchStateReady,
	}
	h := newHarness(t, cp)

	_, err := h.mgr.CreateBranch(context.Background(), "main", CreateBranchOptions{Source: "main"})

	var protected *DefaultBranchProtectedError
	require.ErrorAs(t, err, &protected)
	assert.Empty(t, cp.deleteCalls)
	assert.Empty(t, cp.createCalls)
}

func TestCreateBranchWaitsUntilReady(t *testing.T) {
	cp := newFakeControlPlane()
	cp.creatingPolls = 2
	h := newHarness(t, cp)

	branch, err := h.mgr.CreateBranch(context.Background(), "slow", CreateBranchOptions{Source: "main"})
	require.NoError(t, err)

	assert.Equal(t, models.BranchStateReady, branch.State)
	assert.NotEmpty(t, h.sleeps)
}

func TestCreateBranchPassesSourceTime(t *testing.T) {
	cp := newFakeControlPlane()
	h := newHarness(t, cp)

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	branch, err := h.mgr.CreateBranch(context.Background(), "recovery", CreateBranchOptions{
		Source:     "main",
		SourceTime: &at,
	})
	require.NoError(t, err)

	require.NotNil(t, branch.SourceTime)
	assert.True(t, branch.SourceTime.Equal(at))
}

func TestDeleteBranchDefaultProtected(t *testing.T) {
	cp := newFakeControlPlane()
	cp.branches["main"] = &models.Branch{
		BranchID: "main",
		Default:  true,
		State:    models.BranchStateReady,
	}
	h := newHarness(t, cp)

	err := h.mgr.DeleteBranch(context.Background(), "main")

	var protected *DefaultBranchProtectedError
	require.ErrorAs(t, err, &protected)
	assert.Empty(t, cp.deleteCalls, "no deletion call reaches the service")
}

func TestDeleteBranchNotFound(t *testing.T) {
	cp := newFakeControlPlane()
	h := newHarness(t, cp)

	err := h.mgr.DeleteBranch(context.Background(), "ghost")

	var failed *BranchDeletionFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "ghost", failed.BranchID)
}

func TestDeleteBranch(t *testing.T) {
	cp := newFakeControlPlane()
	cp.branches["dev"] = &models.Branch{BranchID: "dev", State: models.BranchStateReady}
	h := newHarness(t, cp)

	require.NoError(t, h.mgr.DeleteBranch(context.Background(), "dev"))
	assert.Empty(t, cp.branches)
}

func TestCloseSessionIdempotent(t *testing.T) {
	cp := newFakeControlPlane()
	cp.endpoints["dev"] = []models.Endpoint{readyEndpoint("dev")}
	h := newHarness(t, cp)

	first, err := h.mgr.OpenSession(context.Background(), "dev", time.Minute)
	require.NoError(t, err)
	second, err := h.mgr.OpenSession(context.Background(), "dev", time.Minute)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, h.mgr.CloseSession(ctx, first))
	require.NoError(t, h.mgr.CloseSession(ctx, first))
	require.NoError(t, h.mgr.CloseSession(ctx, first))

	require.Len(t, h.conns, 2)
	assert.Equal(t, 1, h.conns[0].closeCalls, "underlying connection closed exactly once")
	assert.Equal(t, 0, h.conns[1].closeCalls, "other open sessions unaffected")

	require.NoError(t, h.mgr.CloseSession(ctx, second))
	assert.Equal(t, 1, h.conns[1].closeCalls)
}
