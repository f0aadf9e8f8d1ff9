package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vsnbridge/config"
	"vsnbridge/logging"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "servicenode",
	Short: "Service node brokering token transfers between blockchains",
	RunE: func(cmd *cobra.Command, args []string) error {
		return start(func(ctx context.Context, n *node, processStart time.Time) error {
			return n.run(ctx, processStart)
		})
	},
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Serve the REST API and process every queue",
	RunE:  rootCmd.RunE,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Only process transfer submissions and confirmations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return start(func(ctx context.Context, n *node, _ time.Time) error {
			return n.work(ctx)
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path of the yaml configuration file")
	rootCmd.AddCommand(runCmd, workerCmd)
}

func start(fn func(ctx context.Context, n *node, processStart time.Time) error) error {
	processStart := time.Now()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, closer := logging.New(cfg.Log, cfg.Application.Debug)
	defer closer.Close()
	entry := logrus.NewEntry(logger).WithField("pid", os.Getpid())
	entry.Info("Starting service node")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := newNode(ctx, cfg, entry)
	if err != nil {
		entry.Errorf("Cannot start service node: %s", err.Error())
		return err
	}
	defer n.Close()

	if err := fn(ctx, n, processStart); err != nil && ctx.Err() == nil {
		entry.Errorf("Service node stopped: %s", err.Error())
		return err
	}
	entry.Info("Service node shutdown normal")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
