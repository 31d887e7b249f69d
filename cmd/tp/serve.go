package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"taskpulse/internal/app"
	tplog "taskpulse/internal/log"
	"taskpulse/internal/server"
)

const jwtSecretEnv = "TASKPULSE_JWT_SECRET"

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") || cfg.Server.Addr == "" {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("base-path") || cfg.Server.BasePath == "" {
				cfg.Server.BasePath = basePath
			}
			authCfg := server.AuthConfig{
				JWTSecret:       os.Getenv(jwtSecretEnv),
				AllowUserHeader: cfg.Server.AllowUserHeader,
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowUserHeader {
				return fmt.Errorf("%s is required for bearer auth", jwtSecretEnv)
			}

			logger := tplog.Setup(cfg.Log)
			ctx := cmd.Context()
			a, err := app.Open(ctx, viper.GetString("workspace"), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			authCfg.Logger = a.Log.WithField("component", "auth")

			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				Query:    a.Query,
				Hub:      a.Hub,
				BasePath: cfg.Server.BasePath,
				Auth:     authCfg,
				Log:      a.Log.WithField("component", "http"),
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return a.Run(gctx)
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			g.Go(func() error {
				a.Log.WithField("addr", cfg.Server.Addr).Infof("serving taskpulse API at %s (OpenAPI at /openapi.json)", cfg.Server.BasePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}
