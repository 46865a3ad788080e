package scenarios

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"branchlab/internal/branching"
	"branchlab/internal/config"
	"branchlab/internal/controlplane"
	"branchlab/internal/mockserver"
)

// TestScenariosEndToEnd runs every walkthrough against a real Postgres in a
// container, with the mock control plane in-process. Needs Docker.
func TestScenariosEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:17-alpine",
		tcpostgres.WithDatabase("postgres"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, testcontainers.TerminateContainer(ctr))
	})

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	mapped, err := ctr.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cloner, err := mockserver.NewPGCloner(ctx, &config.MockConfig{
		DBHost:          host,
		DBPort:          mapped.Int(),
		DBAdminUser:     "postgres",
		DBAdminPassword: "postgres",
	})
	require.NoError(t, err)

	store := mockserver.NewStore(cloner, mockserver.StoreOptions{
		AdvertiseHost: host,
		DBPort:        mapped.Int(),
		TokenSecret:   []byte("integration-secret"),
	})

	gin.SetMode(gin.TestMode)
	api := httptest.NewServer(mockserver.NewServer(store, "integration-token").Router())
	t.Cleanup(api.Close)

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	cfg := &config.Config{
		APIURL:                api.URL,
		APIToken:              "integration-token",
		Project:               "branchlab-it",
		Schema:                "ecommerce",
		SSLMode:               "disable",
		MaxWait:               60 * time.Second,
		MinCU:                 0.5,
		MaxCU:                 4.0,
		SuspendTimeoutSeconds: 60,
	}

	client := controlplane.New(cfg.APIURL, cfg.APIToken)
	mgr := branching.NewManager(client, branching.Options{
		Project: cfg.Project,
		SSLMode: cfg.SSLMode,
		Logger:  log,
	})

	runner := NewRunner(client, mgr, cfg, log)
	runner.SetOutput(io.Discard)

	require.NoError(t, runner.Setup(ctx))
	require.NoError(t, runner.DataOnly(ctx))
	require.NoError(t, runner.SchemaToProd(ctx))
	require.NoError(t, runner.Concurrent(ctx))
	require.NoError(t, runner.CICD(ctx))
	require.NoError(t, runner.PointInTime(ctx))

	t.Run("recreating a branch discards its writes", func(t *testing.T) {
		prod, err := runner.defaultBranch(ctx)
		require.NoError(t, err)

		sess, err := runner.openSession(ctx, dataOnlyBranch)
		require.NoError(t, err)
		var marked int64
		require.NoError(t, sess.QueryRow(ctx, fmt.Sprintf(
			"SELECT count(*) FROM %s.customers WHERE email = $1", cfg.Schema),
			"branch.test@example.com").Scan(&marked))
		require.NoError(t, mgr.CloseSession(ctx, sess))
		require.EqualValues(t, 1, marked)

		_, err = mgr.CreateBranch(ctx, dataOnlyBranch, branching.CreateBranchOptions{
			Source: prod,
			TTL:    time.Hour,
		})
		require.NoError(t, err)

		sess, err = runner.openSession(ctx, dataOnlyBranch)
		require.NoError(t, err)
		defer mgr.CloseSession(ctx, sess)
		require.NoError(t, sess.QueryRow(ctx, fmt.Sprintf(
			"SELECT count(*) FROM %s.customers WHERE email = $1", cfg.Schema),
			"branch.test@example.com").Scan(&marked))
		require.EqualValues(t, 0, marked)
	})

	require.NoError(t, runner.Cleanup(ctx, true))

	project, err := client.GetProject(ctx, cfg.Project)
	require.NoError(t, err)
	require.Nil(t, project)
}
