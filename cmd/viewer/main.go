package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"raster-mirror/internal/config"
	"raster-mirror/internal/control"
	"raster-mirror/internal/logging"
	"raster-mirror/internal/session"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "viewer",
		Short:         "Mirror a render server's canvas and drive it over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(runCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var (
		configPath  string
		endpoint    string
		controlAddr string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the render server and serve the control surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadViewerConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("endpoint") {
				cfg.Endpoint = endpoint
			}
			if cmd.Flags().Changed("control") {
				cfg.ControlAddr = controlAddr
			}
			if err := config.ValidateViewerConfig(cfg); err != nil {
				return err
			}
			return run(cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a .toml or .yaml config file")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "render server websocket URL")
	cmd.Flags().StringVar(&controlAddr, "control", "", "control surface listen address")
	return cmd
}

func run(cfg config.ViewerConfig) error {
	logger := logging.ConfigureRuntime("viewer")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := session.New(cfg, logger)
	ctl := control.New(s, cfg.Hello, logging.Component(logger, "control"))

	ctlErr := make(chan error, 1)
	go func() {
		ctlErr <- ctl.ListenAndServe(ctx, cfg.ControlAddr)
	}()

	sessionDone := make(chan error, 1)
	go func() {
		sessionDone <- s.Run(ctx)
	}()

	select {
	case err := <-ctlErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			stop()
			<-sessionDone
			return fmt.Errorf("control surface: %w", err)
		}
		return <-sessionDone
	case err := <-sessionDone:
		stop()
		if cerr := <-ctlErr; cerr != nil && !errors.Is(cerr, http.ErrServerClosed) {
			logger.Warn().Err(cerr).Msg("control surface shutdown")
		}
		return err
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "viewer %s (%s)\n", version, commit)
		},
	}
}
