package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"branchlab/internal/config"
	"branchlab/internal/mockserver"
)

func mockServerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mock-server",
		Short: "Run a local branching control plane backed by plain Postgres",
		Long: `mock-server emulates the branching API against an ordinary Postgres
instance. Branches are template-cloned databases and credentials are real
login roles, so every scenario runs unchanged against it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()

			cfg, err := config.LoadMock()
			if err != nil {
				return err
			}

			cloner, err := mockserver.NewPGCloner(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("connect to postgres: %w", err)
			}

			store := mockserver.NewStore(cloner, mockserver.StoreOptions{
				AdvertiseHost:  cfg.AdvertiseHost,
				DBPort:         cfg.DBPort,
				ProvisionDelay: cfg.ProvisionDelay,
				TokenSecret:    cfg.TokenSecret,
			})

			srv := &http.Server{
				Addr:         fmt.Sprintf(":%d", cfg.Port),
				Handler:      mockserver.NewServer(store, cfg.APIToken).Router(),
				IdleTimeout:  time.Minute,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 30 * time.Second,
			}

			go func() {
				log.Infof("control plane listening on %s", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatalf("http server error: %s", err)
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info("shutting down server gracefully ...")

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				log.Errorf("server shutdown: %s", err)
			}
			log.Info("server exiting")
			return nil
		},
	}
}
