package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cobenefit-atlas/internal/server"
)

var (
	servePort   int
	serveNoWarm bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the query and map API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv("serve")
		if err != nil {
			return err
		}
		defer env.Close()

		atlas, err := env.Datasets.LoadAtlas(ctx)
		if err != nil {
			return eris.Wrap(err, "load zone boundaries")
		}

		// Warm the engine so the first dashboard query does not pay for the
		// snapshot download. Requests arriving earlier share the same bootstrap.
		if !serveNoWarm {
			go func() {
				if _, err := env.Engine.Init(ctx); err != nil {
					zap.L().Warn("engine warm-up failed", zap.Error(err))
				}
			}()
		}

		srvHandler := server.New(server.Deps{
			Engine:     env.Engine,
			Catalog:    env.Catalog,
			Atlas:      atlas,
			Archetypes: env.Archetypes,
		}, server.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			StyleURL:       cfg.Map.StyleURL,
			Zoom:           cfg.Map.Zoom,
			Center:         cfg.Map.Center,
			BasePath:       cfg.Map.BasePath,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           srvHandler.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoWarm, "no-warm", false, "skip engine warm-up at startup")
	rootCmd.AddCommand(serveCmd)
}
