package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"goredis/internal/clock"
	"goredis/internal/config"
	"goredis/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.DefaultConfig()
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cmd := &cobra.Command{
		Use:   "redisd",
		Short: "A single-threaded, Redis-compatible server",
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(cfg, log)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&cfg.Port, "port", cfg.Port, "TCP port to listen on")
	flags.StringVar(&cfg.ReplicaOf, "replicaof", cfg.ReplicaOf, `"<host> <port>" of the primary to replicate from`)
	flags.StringVar(&cfg.Dir, "dir", cfg.Dir, "directory holding the RDB snapshot")
	flags.StringVar(&cfg.DBFilename, "dbfilename", cfg.DBFilename, "RDB snapshot filename")

	return cmd
}

func run(cfg *config.Config, log *logrus.Logger) error {
	srv, err := server.New(cfg, clock.Real{}, log)
	if err != nil {
		return fmt.Errorf("redisd: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("redisd: %w", err)
	}

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		close(stop)
	}()

	role := "master"
	if cfg.IsReplica() {
		role = fmt.Sprintf("replica of %s", cfg.ReplicaOf)
	}
	log.WithField("port", cfg.Port).WithField("role", role).Info("redisd starting")

	return srv.Run(stop)
}
