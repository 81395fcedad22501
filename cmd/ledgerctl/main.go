// Command ledgerctl is the operator tool for the credit ledger: schema migrations,
// balance inspection, reconciliation, administrative adjustments and order upkeep.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"credit-settlement/internal/application"
	"credit-settlement/internal/config"
	"credit-settlement/internal/infra/logging"
)

var Version = "dev"

type options struct {
	configPath string
	dev        bool
}

// session is one opened backend plus the use cases built on it.
type session struct {
	cfg     *config.Config
	backend *application.Backend
	svc     *application.Services
	log     *zerolog.Logger
}

func (o *options) open(ctx context.Context, logOut io.Writer) (*session, error) {
	cfg, err := config.LoadConfig(o.configPath, o.dev)
	if err != nil {
		return nil, err
	}
	logger := logging.NewWithWriter(logOut, cfg.Log, cfg.Runtime.Dev)
	b, err := application.OpenBackend(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	// no redis: the CLI never creates orders and never sees callbacks
	svc, err := application.NewServices(cfg, b, nil, logger)
	if err != nil {
		b.Close()
		return nil, err
	}
	return &session{cfg: cfg, backend: b, svc: svc, log: logger}, nil
}

func (s *session) Close() { s.backend.Close() }

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the credit ledger and payment orders",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&o.configPath, "config", "config.yaml", "path to YAML config file")
	root.PersistentFlags().BoolVar(&o.dev, "dev", false, "developer mode (console logs)")

	root.AddCommand(
		migrateCmd(o),
		balanceCmd(o),
		historyCmd(o),
		reconcileCmd(o),
		adjustCmd(o),
		ordersCmd(o),
		sweepCmd(o),
		statsCmd(o),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
