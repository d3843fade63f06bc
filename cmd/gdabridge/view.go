package main

import (
	"context"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GeoDaCenter/gdabridge/internal/host"
	"github.com/GeoDaCenter/gdabridge/internal/webview"
)

func newViewCmd(a *app) *cobra.Command {
	var headless bool
	cmd := &cobra.Command{
		Use:   "view <url>",
		Short: "Open a page in Chrome and bridge it to the project.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("headless") {
				a.cfg.View.Headless = headless
			}
			return a.view(cmd.Context(), args[0])
		},
	}
	cmd.Flags().BoolVar(&headless, "headless", true, "run Chrome without a window")
	return cmd
}

func (a *app) view(ctx context.Context, url string) error {
	st, closeStore := a.openStore()
	defer closeStore()

	p, err := a.openProject(ctx, st)
	if err != nil {
		return err
	}

	closed := make(chan struct{})
	var once sync.Once
	h := a.newHost(p, st, func(_ context.Context, page host.Page) {
		a.logger.Info("page asked to close", zap.String("session_id", page.ID()))
		once.Do(func() { close(closed) })
	})

	v, err := webview.Open(ctx, h, webview.Options{
		Headless: a.cfg.View.Headless,
		ExecPath: a.cfg.View.ExecPath,
	}, a.logger)
	if err != nil {
		return err
	}
	defer v.Close()

	if err := v.Navigate(ctx, url); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-v.Done():
		a.logger.Info("browser closed")
	case <-closed:
	}
	return nil
}
