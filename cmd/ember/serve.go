package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chazu/ember/server"
	"github.com/chazu/ember/vm"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve interactive sessions over Connect and gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg vm.Config
			if m, _, err := project(nil); err == nil {
				cfg = m.EnvConfig()
			}

			srv := server.New(server.WithEnvConfig(cfg), server.WithSessionTTL(ttl))
			defer srv.Stop()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			errc := make(chan error, 1)
			go func() { errc <- srv.ListenAndServe(fmt.Sprintf(":%d", port)) }()

			select {
			case err := <-errc:
				return err
			case s := <-sig:
				log.Noticef("received %s, shutting down", s)
				return nil
			}
		},
	}

	cmd.Flags().IntVar(&port, "port", 4567, "port to listen on")
	cmd.Flags().DurationVar(&ttl, "session-ttl", 30*time.Minute, "idle time after which a session is dropped")
	return cmd
}

func newLspCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lsp",
		Short: "Run the language server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return server.NewLSP(nil).Run()
		},
	}
}
