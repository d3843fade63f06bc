package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GeoDaCenter/gdabridge/internal/config"
	"github.com/GeoDaCenter/gdabridge/internal/host"
	"github.com/GeoDaCenter/gdabridge/internal/observability"
	"github.com/GeoDaCenter/gdabridge/internal/project"
	"github.com/GeoDaCenter/gdabridge/internal/store"
)

// Version is set at build time with
// -ldflags "-X main.Version=...".
var Version = "dev"

type app struct {
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "gdabridge",
		Short:         "Bridge web pages to a GeoDa project over their document title.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.cfgFile)
			if err != nil {
				return err
			}
			logger, err := observability.NewStdoutLogger(cfg.Logger)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logger
			logger.Debug("config loaded", zap.String("path", a.cfgFile), zap.String("version", Version))
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			observability.Sync(a.logger)
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (JSON with comments)")

	root.AddCommand(newServeCmd(a), newViewCmd(a), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the gdabridge version.",
		// Overrides the root hook so version works without a valid config.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}

// openStore picks redis when an address is configured.
func (a *app) openStore() (store.Store, func()) {
	if a.cfg.Store.RedisAddr == "" {
		a.logger.Info("use memory store")
		return store.NewMemoryStore(), func() {}
	}
	st := store.NewRedisStore(a.cfg.Store.RedisAddr, a.cfg.Store.Namespace)
	a.logger.Info("use redis store", zap.String("addr", a.cfg.Store.RedisAddr))
	return st, func() {
		if err := st.Close(); err != nil {
			a.logger.Warn("close redis store failed", zap.Error(err))
		}
	}
}

func (a *app) openProject(ctx context.Context, st store.Store) (*project.Project, error) {
	var (
		table *project.Table
		err   error
	)
	if a.cfg.Project.TablePath != "" {
		table, err = project.LoadTable(a.cfg.Project.TablePath)
	} else {
		table, err = project.ParseTable([]byte("{}"))
	}
	if err != nil {
		return nil, err
	}
	a.logger.Info("table loaded",
		zap.String("path", a.cfg.Project.TablePath),
		zap.Int("columns", len(table.Columns)),
		zap.Int("rows", table.Rows()))

	p := project.New(table, st, a.logger)
	for _, title := range a.cfg.Project.Weights {
		p.AddWeights(ctx, "", title)
	}
	return p, nil
}

func (a *app) newHost(p *project.Project, st store.Store, onClose func(context.Context, host.Page)) *host.Host {
	return host.New(p, st,
		host.WithLogger(a.logger),
		host.WithChooser(host.PresetChooser{Names: a.cfg.Project.Variables}),
		host.WithHandledTTL(a.cfg.Server.HandledTTL()),
		host.WithOnClose(onClose),
	)
}
