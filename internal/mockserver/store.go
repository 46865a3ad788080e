package mockserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"branchlab/internal/models"
)

// DefaultBranchID is the production branch every project starts with.
const DefaultBranchID = "main"

var (
	ErrProjectNotFound        = errors.New("project not found")
	ErrProjectExists          = errors.New("project already exists")
	ErrBranchNotFound         = errors.New("branch not found")
	ErrBranchExists           = errors.New("branch already exists")
	ErrSourceBranchNotFound   = errors.New("source branch not found")
	ErrDefaultBranchProtected = errors.New("default branch cannot be deleted")
	ErrNoRestorePoint         = errors.New("no restorable point at or before the requested time")
	ErrEndpointNotFound       = errors.New("endpoint not found")
)

type checkpoint struct {
	At     time.Time
	DBName string
}

type branchRecord struct {
	branch            models.Branch
	dbName            string
	endpointVisibleAt time.Time
	checkpoints       []checkpoint // ascending by At
}

type projectRecord struct {
	project  models.Project
	branches map[string]*branchRecord
}

type StoreOptions struct {
	AdvertiseHost  string
	DBPort         int
	ProvisionDelay time.Duration
	TokenSecret    []byte
	Now            func() time.Time // test hook; defaults to time.Now
}

// Store holds the mock service's state of record: project and branch
// metadata in memory, branch contents as Postgres databases behind the
// Cloner. All access is serialized; the demo flows are sequential anyway.
type Store struct {
	mu       sync.Mutex
	cloner   Cloner
	projects map[string]*projectRecord
	opts     StoreOptions
}

func NewStore(cloner Cloner, opts StoreOptions) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DBPort == 0 {
		opts.DBPort = 5432
	}
	return &Store{
		cloner:   cloner,
		projects: map[string]*projectRecord{},
		opts:     opts,
	}
}

func (s *Store) ListProjects() []models.Project {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Project, 0, len(s.projects))
	for _, rec := range s.projects {
		out = append(out, rec.project)
	}
	return out
}

func (s *Store) GetProject(name string) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.projects[name]
	if !ok {
		return nil, ErrProjectNotFound
	}
	copied := rec.project
	return &copied, nil
}

// CreateProject provisions the project together with its default branch and
// that branch's backing database.
func (s *Store) CreateProject(ctx context.Context, req models.CreateProjectRequest) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[req.Name]; ok {
		return nil, ErrProjectExists
	}

	now := s.opts.Now()

	project := models.Project{
		Name:      req.Name,
		State:     models.ProjectStateActive,
		PGVersion: req.PGVersion,
		CreatedAt: now,
	}
	project.Prepare()

	mainDB := s.dbName(req.Name, DefaultBranchID)
	if err := s.cloner.CreateDatabase(ctx, mainDB); err != nil {
		return nil, err
	}

	main := models.Branch{
		BranchID:  DefaultBranchID,
		Project:   req.Name,
		Default:   true,
		State:     models.BranchStateReady,
		CreatedAt: now,
	}
	main.Prepare()

	s.projects[req.Name] = &projectRecord{
		project: project,
		branches: map[string]*branchRecord{
			DefaultBranchID: {
				branch:            main,
				dbName:            mainDB,
				endpointVisibleAt: now.Add(s.opts.ProvisionDelay),
			},
		},
	}

	copied := project
	return &copied, nil
}

func (s *Store) DeleteProject(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.projects[name]
	if !ok {
		return ErrProjectNotFound
	}

	for _, br := range rec.branches {
		for _, ckpt := range br.checkpoints {
			if err := s.cloner.Drop(ctx, ckpt.DBName); err != nil {
				return err
			}
		}
		if err := s.cloner.Drop(ctx, br.dbName); err != nil {
			return err
		}
	}

	delete(s.projects, name)
	return nil
}

func (s *Store) ListBranches(project string) ([]models.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.projects[project]
	if !ok {
		return nil, ErrProjectNotFound
	}

	out := make([]models.Branch, 0, len(rec.branches))
	for _, br := range rec.branches {
		out = append(out, br.branch)
	}
	return out, nil
}

func (s *Store) GetBranch(project, branchID string) (*models.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	br, err := s.branchRecord(project, branchID)
	if err != nil {
		return nil, err
	}
	copied := br.branch
	return &copied, nil
}

// CreateBranch clones the source branch's database: at its head, or at the
// newest checkpoint at or before SourceTime for point-in-time branches. The
// clone happens synchronously; only the endpoint attach is delayed.
func (s *Store) CreateBranch(ctx context.Context, project string, req models.CreateBranchRequest) (*models.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.projects[project]
	if !ok {
		return nil, ErrProjectNotFound
	}
	if _, ok := rec.branches[req.BranchID]; ok {
		return nil, ErrBranchExists
	}

	sourceID := req.SourceBranch
	if sourceID == "" {
		sourceID = DefaultBranchID
	}
	source, ok := rec.branches[sourceID]
	if !ok {
		return nil, ErrSourceBranchNotFound
	}

	sourceDB := source.dbName
	if req.SourceTime != nil {
		ckpt, ok := latestCheckpointAt(source.checkpoints, *req.SourceTime)
		if !ok {
			return nil, ErrNoRestorePoint
		}
		sourceDB = ckpt.DBName
	}

	now := s.opts.Now()
	dbName := s.dbName(project, req.BranchID)

	if err := s.cloner.Clone(ctx, sourceDB, dbName); err != nil {
		return nil, err
	}

	branch := models.Branch{
		BranchID:     req.BranchID,
		Project:      project,
		SourceBranch: sourceID,
		SourceTime:   req.SourceTime,
		TTLSeconds:   req.TTLSeconds,
		State:        models.BranchStateReady,
		CreatedAt:    now,
	}
	branch.Prepare()

	rec.branches[req.BranchID] = &branchRecord{
		branch:            branch,
		dbName:            dbName,
		endpointVisibleAt: now.Add(s.opts.ProvisionDelay),
	}

	copied := branch
	return &copied, nil
}

func (s *Store) DeleteBranch(ctx context.Context, project, branchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.projects[project]
	if !ok {
		return ErrProjectNotFound
	}
	br, ok := rec.branches[branchID]
	if !ok {
		return ErrBranchNotFound
	}
	if br.branch.Default {
		return ErrDefaultBranchProtected
	}

	for _, ckpt := range br.checkpoints {
		if err := s.cloner.Drop(ctx, ckpt.DBName); err != nil {
			return err
		}
	}
	if err := s.cloner.Drop(ctx, br.dbName); err != nil {
		return err
	}

	delete(rec.branches, branchID)
	return nil
}

// ListEndpoints returns the branch's endpoint once the provisioning delay has
// elapsed, and an empty list before that, which is exactly what clients of
// the real service observe right after branch creation.
func (s *Store) ListEndpoints(project, branchID string) ([]models.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	br, err := s.branchRecord(project, branchID)
	if err != nil {
		return nil, err
	}

	if s.opts.Now().Before(br.endpointVisibleAt) {
		return []models.Endpoint{}, nil
	}

	return []models.Endpoint{{
		Name:     "ep-" + branchID,
		Host:     s.opts.AdvertiseHost,
		Port:     s.opts.DBPort,
		Database: br.dbName,
		State:    models.EndpointStateReady,
	}}, nil
}

// GenerateCredential mints a fresh token and provisions the matching login
// role. Every call produces a new role; nothing is cached or reused.
func (s *Store) GenerateCredential(ctx context.Context, project, branchID, endpoint string) (*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	br, err := s.branchRecord(project, branchID)
	if err != nil {
		return nil, err
	}
	if endpoint != "ep-"+branchID || s.opts.Now().Before(br.endpointVisibleAt) {
		return nil, ErrEndpointNotFound
	}

	user := "cred_" + strings.ReplaceAll(uuid.NewString()[:13], "-", "")
	token, expiresAt, err := mintCredentialToken(s.opts.TokenSecret, user, s.opts.Now())
	if err != nil {
		return nil, fmt.Errorf("mint credential token: %w", err)
	}

	if err := s.cloner.CreateLoginRole(ctx, user, token, expiresAt); err != nil {
		return nil, err
	}

	return &models.Credential{
		User:      user,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

// Checkpoint snapshots a branch so later point-in-time branches can restore
// to this instant. The managed service keeps continuous history instead;
// explicit checkpoints are the mock's stand-in for it.
func (s *Store) Checkpoint(ctx context.Context, project, branchID string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	br, err := s.branchRecord(project, branchID)
	if err != nil {
		return time.Time{}, err
	}

	at := s.opts.Now()
	ckptDB := fmt.Sprintf("%s_ckpt_%d", br.dbName, at.UnixNano())
	if err := s.cloner.Clone(ctx, br.dbName, ckptDB); err != nil {
		return time.Time{}, err
	}

	br.checkpoints = append(br.checkpoints, checkpoint{At: at, DBName: ckptDB})
	return at, nil
}

func (s *Store) branchRecord(project, branchID string) (*branchRecord, error) {
	rec, ok := s.projects[project]
	if !ok {
		return nil, ErrProjectNotFound
	}
	br, ok := rec.branches[branchID]
	if !ok {
		return nil, ErrBranchNotFound
	}
	return br, nil
}

func latestCheckpointAt(ckpts []checkpoint, at time.Time) (checkpoint, bool) {
	for i := len(ckpts) - 1; i >= 0; i-- {
		if !ckpts[i].At.After(at) {
			return ckpts[i], true
		}
	}
	return checkpoint{}, false
}

// dbName derives a safe database name from project and branch ids.
func (s *Store) dbName(project, branchID string) string {
	return dbIdent(project) + "_" + dbIdent(branchID)
}

func dbIdent(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			out = append(out, c)
		case c >= 'A' && c <= 'Z':
			out = append(out, c+'a'-'A')
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
