// Command diamock serves an in-memory DIA backend for local development
// and demos. Start several on different ports and point a client at
// them to watch endpoint rotation; --down starts one that answers 503.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Kamranmsyv/dia/internal/config"
	"github.com/Kamranmsyv/dia/internal/logging"
	"github.com/Kamranmsyv/dia/internal/mockserver"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "diamock:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()
	var (
		configPath string
		down       bool
	)
	cmd := &cobra.Command{
		Use:          "diamock",
		Short:        "Serve an in-memory DIA backend",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, configPath)
			if err != nil {
				return err
			}
			log, err := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}

			opts := []mockserver.Option{mockserver.WithLogger(log)}
			if cfg.Mock.FundsFile != "" {
				funds, err := mockserver.LoadFunds(cfg.Mock.FundsFile)
				if err != nil {
					return err
				}
				log.WithField("funds", len(funds)).Info("loaded fund catalogue")
				opts = append(opts, mockserver.WithFunds(funds))
			}
			backend := mockserver.New(opts...)
			backend.SetDown(down)
			srv := &http.Server{
				Addr:              cfg.Mock.Addr,
				Handler:           backend.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				log.WithField("addr", cfg.Mock.Addr).Info("mock backend listening")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("serve: %w", err)
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			log.Info("shutting down")
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "YAML config file")
	cmd.Flags().String("addr", "", "listen address. Env: DIA_MOCK_ADDR")
	cmd.Flags().String("funds", "", "JSON fund catalogue to serve instead of the built-in one. Env: DIA_MOCK_FUNDS_FILE")
	cmd.Flags().String("log-level", "", "debug, info, warn or error. Env: DIA_LOG_LEVEL")
	cmd.Flags().String("log-format", "", "text or json. Env: DIA_LOG_FORMAT")
	cmd.Flags().BoolVar(&down, "down", false, "answer every API call with 503")

	for key, flag := range map[string]string{
		config.KeyMockAddr:      "addr",
		config.KeyMockFundsFile: "funds",
		config.KeyLogLevel:      "log-level",
		config.KeyLogFormat:     "log-format",
	} {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind %s: %v", flag, err))
		}
	}
	return cmd
}
