package mockserver

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"branchlab/internal/models"
)

// fakeCloner tracks databases as name -> content marker so tests can tell
// which source a clone was taken from.
type fakeCloner struct {
	databases map[string]string
	roles     []string
}

func newFakeCloner() *fakeCloner {
	return &fakeCloner{databases: map[string]string{}}
}

func (f *fakeCloner) CreateDatabase(_ context.Context, name string) error {
	if _, ok := f.databases[name]; ok {
		return fmt.Errorf("database %q already exists", name)
	}
	f.databases[name] = "empty"
	return nil
}

func (f *fakeCloner) Clone(_ context.Context, src, dst string) error {
	content, ok := f.databases[src]
	if !ok {
		return fmt.Errorf("source database %q does not exist", src)
	}
	if _, ok := f.databases[dst]; ok {
		return fmt.Errorf("database %q already exists", dst)
	}
	f.databases[dst] = content
	return nil
}

func (f *fakeCloner) Drop(_ context.Context, name string) error {
	delete(f.databases, name)
	return nil
}

func (f *fakeCloner) CreateLoginRole(_ context.Context, user, _ string, _ time.Time) error {
	f.roles = append(f.roles, user)
	return nil
}

type storeFixture struct {
	store  *Store
	cloner *fakeCloner
	now    time.Time
}

func newStoreFixture(t *testing.T, provisionDelay time.Duration) *storeFixture {
	t.Helper()

	f := &storeFixture{
		cloner: newFakeCloner(),
		now:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.store = NewStore(f.cloner, StoreOptions{
		AdvertiseHost:  "localhost",
		DBPort:         5432,
		ProvisionDelay: provisionDelay,
		TokenSecret:    []byte("test-secret"),
		Now:            func() time.Time { return f.now },
	})
	return f
}

func (f *storeFixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *storeFixture) createProject(t *testing.T, name string) {
	t.Helper()
	_, err := f.store.CreateProject(context.Background(), models.CreateProjectRequest{Name: name})
	require.NoError(t, err)
}

func TestCreateProjectCreatesDefaultBranch(t *testing.T) {
	f := newStoreFixture(t, 0)
	f.createProject(t, "demo")

	branches, err := f.store.ListBranches("demo")
	require.NoError(t, err)
	require.Len(t, branches, 1)
	assert.Equal(t, DefaultBranchID, branches[0].BranchID)
	assert.True(t, branches[0].Default)
	assert.Equal(t, models.BranchStateReady, branches[0].State)

	assert.Contains(t, f.cloner.databases, "demo_main")
}

func TestCreateProjectDuplicate(t *testing.T) {
	f := newStoreFixture(t, 0)
	f.createProject(t, "demo")

	_, err := f.store.CreateProject(context.Background(), models.CreateProjectRequest{Name: "demo"})
	assert.ErrorIs(t, err, ErrProjectExists)
}

func TestEndpointAppearsAfterProvisionDelay(t *testing.T) {
	f := newStoreFixture(t, 30*time.Second)
	f.createProject(t, "demo")

	endpoints, err := f.store.ListEndpoints("demo", DefaultBranchID)
	require.NoError(t, err)
	assert.Empty(t, endpoints, "endpoint hidden while compute attaches")

	f.advance(30 * time.Second)

	endpoints, err = f.store.ListEndpoints("demo", DefaultBranchID)
	require.NoError(t, err)
	require.Len(t, endpoints, 1)
	assert.Equal(t, "ep-main", endpoints[0].Name)
	assert.Equal(t, "demo_main", endpoints[0].Database)
	assert.Equal(t, models.EndpointStateReady, endpoints[0].State)
}

func TestCreateBranchClonesSourceHead(t *testing.T) {
	f := newStoreFixture(t, 0)
	f.createProject(t, "demo")
	f.cloner.databases["demo_main"] = "seeded"

	branch, err := f.store.CreateBranch(context.Background(), "demo", models.CreateBranchRequest{
		BranchID:   "dev-readonly",
		TTLSeconds: 86400,
	})
	require.NoError(t, err)

	assert.Equal(t, DefaultBranchID, branch.SourceBranch)
	assert.Equal(t, models.BranchStateReady, branch.State)
	assert.Equal(t, "seeded", f.cloner.databases["demo_dev_readonly"])
}

func TestCreateBranchDuplicate(t *testing.T) {
	f := newStoreFixture(t, 0)
	f.createProject(t, "demo")

	req := models.CreateBranchRequest{BranchID: "dev"}
	_, err := f.store.CreateBranch(context.Background(), "demo", req)
	require.NoError(t, err)

	_, err = f.store.CreateBranch(context.Background(), "demo", req)
	assert.ErrorIs(t, err, ErrBranchExists)
}

func TestCreateBranchMissingSource(t *testing.T) {
	f := newStoreFixture(t, 0)
	f.createProject(t, "demo")

	_, err := f.store.CreateBranch(context.Background(), "demo", models.CreateBranchRequest{
		BranchID:     "dev",
		SourceBranch: "ghost",
	})
	assert.ErrorIs(t, err, ErrSourceBranchNotFound)
}

func TestDeleteDefaultBranchProtected(t *testing.T) {
	f := newStoreFixture(t, 0)
	f.createProject(t, "demo")

	err := f.store.DeleteBranch(context.Background(), "demo", DefaultBranchID)
	assert.ErrorIs(t, err, ErrDefaultBranchProtected)
	assert.Contains(t, f.cloner.databases, "demo_main")
}

func TestDeleteBranchDropsDatabases(t *testing.T) {
	f := newStoreFixture(t, 0)
	f.createProject(t, "demo")

	_, err := f.store.CreateBranch(context.Background(), "demo", models.CreateBranchRequest{BranchID: "dev"})
	require.NoError(t, err)
	_, err = f.store.Checkpoint(context.Background(), "demo", "dev")
	require.NoError(t, err)

	require.NoError(t, f.store.DeleteBranch(context.Background(), "demo", "dev"))

	assert.Len(t, f.cloner.databases, 1, "only the default branch's database remains")
	assert.Contains(t, f.cloner.databases, "demo_main")
}

func TestPointInTimeBranchUsesNewestEarlierCheckpoint(t *testing.T) {
	f := newStoreFixture(t, 0)
	f.createProject(t, "demo")

	f.cloner.databases["demo_main"] = "before-disaster"
	_, err := f.store.Checkpoint(context.Background(), "demo", DefaultBranchID)
	require.NoError(t, err)
	safeTime := f.now

	f.advance(time.Minute)
	f.cloner.databases["demo_main"] = "after-disaster"
	_, err = f.store.Checkpoint(context.Background(), "demo", DefaultBranchID)
	require.NoError(t, err)

	branch, err := f.store.CreateBranch(context.Background(), "demo", models.CreateBranchRequest{
		BranchID:   "recovery",
		SourceTime: &safeTime,
	})
	require.NoError(t, err)

	require.NotNil(t, branch.SourceTime)
	assert.Equal(t, "before-disaster", f.cloner.databases["demo_recovery"],
		"recovery branch restores the checkpoint at the safe time, not the head")
}

func TestPointInTimeBranchWithoutRestorePoint(t *testing.T) {
	f := newStoreFixture(t, 0)
	f.createProject(t, "demo")

	past := f.now.Add(-time.Hour)
	_, err := f.store.CreateBranch(context.Background(), "demo", models.CreateBranchRequest{
		BranchID:   "recovery",
		SourceTime: &past,
	})
	assert.ErrorIs(t, err, ErrNoRestorePoint)
}

func TestGenerateCredentialMintsFreshRoles(t *testing.T) {
	f := newStoreFixture(t, 0)
	// Real clock here: token validation checks expiry against wall time.
	f.now = time.Now()
	f.createProject(t, "demo")

	first, err := f.store.GenerateCredential(context.Background(), "demo", DefaultBranchID, "ep-main")
	require.NoError(t, err)
	second, err := f.store.GenerateCredential(context.Background(), "demo", DefaultBranchID, "ep-main")
	require.NoError(t, err)

	assert.NotEqual(t, first.User, second.User)
	assert.NotEqual(t, first.Token, second.Token)
	assert.Len(t, f.cloner.roles, 2)

	claims, err := verifyCredentialToken(first.Token, []byte("test-secret"))
	require.NoError(t, err)
	assert.Equal(t, first.User, claims.Subject)
	assert.Equal(t, f.now.Add(credentialTTL).Unix(), first.ExpiresAt.Unix())
}

func TestGenerateCredentialUnknownEndpoint(t *testing.T) {
	f := newStoreFixture(t, 0)
	f.createProject(t, "demo")

	_, err := f.store.GenerateCredential(context.Background(), "demo", DefaultBranchID, "ep-ghost")
	assert.ErrorIs(t, err, ErrEndpointNotFound)
}

func TestGenerateCredentialBeforeEndpointVisible(t *testing.T) {
	f := newStoreFixture(t, time.Minute)
	f.createProject(t, "demo")

	_, err := f.store.GenerateCredential(context.Background(), "demo", DefaultBranchID, "ep-main")
	assert.ErrorIs(t, err, ErrEndpointNotFound)
}
