// Command mqtt-relay bridges a customer MQTT broker to the TagoIO Platform.
// See SPEC_FULL.md for the full system design; this file wires the CLI,
// configuration, logging, and the top-level Supervisor/DownlinkAPI pair
// together, following the teacher's src/main.go signal-handling and
// slog/tint setup, generalized from a plugin-loading event bridge to this
// fixed relay topology.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tagoio/mqtt-relay/src/config"
	"github.com/tagoio/mqtt-relay/src/downlink"
	"github.com/tagoio/mqtt-relay/src/logging"
	"github.com/tagoio/mqtt-relay/src/platform"
	"github.com/tagoio/mqtt-relay/src/supervisor"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "mqtt-relay",
		Short: "Bridges a customer MQTT broker to the TagoIO Platform",
	}

	root.AddCommand(newInitCommand())
	root.AddCommand(newStartCommand())

	return root
}

func newInitCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.DefaultConfigPath(configPath)
			if err != nil {
				return fmt.Errorf("failed to resolve config path: %w", err)
			}

			if err := config.WriteDefault(path); err != nil {
				return fmt.Errorf("failed to write default config: %w", err)
			}

			fmt.Printf("wrote default config to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config-path", "", "path to write the default config file")

	return cmd
}

func newStartCommand() *cobra.Command {
	var configPath string
	var verbose string
	var debug bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Load config and run the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(configPath, verbose, debug)
		},
	}

	cmd.Flags().StringVar(&configPath, "config-path", "", "path to the config file")
	cmd.Flags().StringVar(&verbose, "verbose", logging.DefaultFilter, "comma-separated log target filter")
	cmd.Flags().BoolVar(&debug, "debug", false, "bind the downlink API to 127.0.0.1 instead of the wildcard address")

	return cmd
}

func runStart(configPathFlag, verbose string, debug bool) error {
	if err := logging.ValidateFilter(verbose); err != nil {
		return fmt.Errorf("invalid --verbose filter: %w", err)
	}
	logger := logging.Setup(verbose)

	path, err := config.DefaultConfigPath(configPathFlag)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	relay, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	platformClient := platform.New()
	sup := supervisor.New([]*config.RelayConfig{relay}, platformClient, logger)

	if err := sup.VerifyTokens(); err != nil {
		return fmt.Errorf("startup token verification failed: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	api := downlink.New(sup, platformClient, logger, relay.Platform.DownlinkPort, relay.Platform.UnsafeMode, debug)

	errCh := make(chan error, 1)
	go func() {
		errCh <- api.ListenAndServe(ctx)
	}()

	go sup.Run(ctx)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("downlink API failed: %w", err)
		}
		return nil
	}
}
