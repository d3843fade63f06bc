package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GeoDaCenter/gdabridge/internal/host"
	"github.com/GeoDaCenter/gdabridge/internal/ws"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve pages over websocket.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	st, closeStore := a.openStore()
	defer closeStore()

	p, err := a.openProject(ctx, st)
	if err != nil {
		return err
	}
	h := a.newHost(p, st, func(_ context.Context, page host.Page) {
		a.logger.Info("page asked to close", zap.String("session_id", page.ID()))
	})
	var hubOpts []ws.HubOption
	if a.cfg.Server.JWTSecret != "" {
		hubOpts = append(hubOpts, ws.WithJWTSecret([]byte(a.cfg.Server.JWTSecret)))
	}
	hubOpts = append(hubOpts, ws.WithTitleRate(a.cfg.Server.TitleRate, a.cfg.Server.TitleBurst))
	hub := ws.NewHub(h, a.cfg.Server.AuthToken, a.logger, hubOpts...)

	mux := http.NewServeMux()
	mux.HandleFunc(a.cfg.Server.PagePath, hub.HandlePage)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("gdabridge listening",
			zap.String("addr", srv.Addr),
			zap.String("page_path", a.cfg.Server.PagePath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		hub.Close()
		a.logger.Info("gdabridge stopped")
		return err
	})
	return g.Wait()
}
