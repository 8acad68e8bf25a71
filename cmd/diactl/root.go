package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Kamranmsyv/dia"
	"github.com/Kamranmsyv/dia/internal/config"
	"github.com/Kamranmsyv/dia/internal/logging"
)

// app is the state shared by every subcommand. It is filled in by the
// root command's PersistentPreRunE.
type app struct {
	v           *viper.Viper
	configPath  string
	requireLive bool

	cfg    *config.Config
	log    *logrus.Logger
	client *dia.Client
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	cmd := &cobra.Command{
		Use:           "diactl",
		Short:         "Talk to the DIA backend, falling back to offline data",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.ErrOrStderr())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.client != nil {
				a.client.Close()
			}
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "YAML config file")
	pf.String("platform", "", "endpoint order to use: web or native. Env: DIA_PLATFORM")
	pf.StringSlice("endpoints", nil, "ordered endpoint list overriding the platform default. Env: DIA_ENDPOINTS_OVERRIDE")
	pf.Duration("timeout", 0, "per-endpoint timeout. Env: DIA_TIMEOUT")
	pf.String("token", "", "bearer token to attach. Env: DIA_TOKEN")
	pf.String("log-level", "", "debug, info, warn or error. Env: DIA_LOG_LEVEL")
	pf.String("log-format", "", "text or json. Env: DIA_LOG_FORMAT")
	pf.BoolVar(&a.requireLive, "require-live", false, "exit non-zero when the answer is substitute data")

	bind(a.v, cmd, map[string]string{
		config.KeyPlatform:         "platform",
		config.KeyEndpointOverride: "endpoints",
		config.KeyTimeout:          "timeout",
		config.KeyToken:            "token",
		config.KeyLogLevel:         "log-level",
		config.KeyLogFormat:        "log-format",
	})

	cmd.AddCommand(
		newHealthCmd(a),
		newLoginCmd(a),
		newRegisterCmd(a),
		newPortfolioCmd(a),
		newFundsCmd(a),
		newRecommendCmd(a),
		newRoundUpCmd(a),
		newDepositCmd(a),
		newWithdrawCmd(a),
		newLeaderboardCmd(a),
		newB2BCmd(a),
		newWatchCmd(a),
		newTickerCmd(a),
	)
	return cmd
}

// bind maps config keys to persistent flags of cmd. A flag only wins
// over env and file when it was set explicitly.
func bind(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for key, flag := range keys {
		f := cmd.PersistentFlags().Lookup(flag)
		if f == nil {
			f = cmd.Flags().Lookup(flag)
		}
		if err := v.BindPFlag(key, f); err != nil {
			panic(fmt.Sprintf("bind %s: %v", flag, err))
		}
	}
}

func (a *app) setup(stderr io.Writer) error {
	cfg, err := config.Load(a.v, a.configPath)
	if err != nil {
		return err
	}
	log, err := logging.New(stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	a.client = dia.New(cfg.ClientOptions(log)...)

	log.WithFields(logrus.Fields{
		"platform":  cfg.Platform,
		"endpoints": a.client.Endpoints(),
	}).Debug("client ready")
	return nil
}

// emit prints env as indented JSON.
func emit[T any](a *app, w io.Writer, env dia.Envelope[T]) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(env); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	if a.requireLive && env.Source != dia.SourceLive {
		return fmt.Errorf("no endpoint answered; printed offline data")
	}
	return nil
}
