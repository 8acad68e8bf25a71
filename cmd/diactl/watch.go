package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Kamranmsyv/dia"
	"github.com/Kamranmsyv/dia/internal/config"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		schedule string
		once     bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll backend health on a schedule and export client metrics",
		Long: `Runs a health check right away and then on a schedule. Each check
prints one line: time, status, source and the endpoint now in use.
Client counters are served in Prometheus format on --metrics-addr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w := &watcher{client: a.client, log: a.log, out: cmd.OutOrStdout()}
			w.check(ctx)
			if once {
				return nil
			}

			spec := schedule
			if spec == "" {
				spec = "@every " + a.cfg.Watch.Interval.String()
			}
			cl := cronLogger{a.log}
			c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.SkipIfStillRunning(cl)))
			if _, err := c.AddFunc(spec, func() { w.check(ctx) }); err != nil {
				return fmt.Errorf("watch: schedule %q: %w", spec, err)
			}

			if addr := a.cfg.Watch.MetricsAddr; addr != "" {
				srv := metricsServer(addr, a.client, a.cfg.Platform)
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.log.WithError(err).Error("metrics server stopped")
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				a.log.WithField("addr", addr).Info("serving metrics")
			}

			c.Start()
			<-ctx.Done()
			<-c.Stop().Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron expression; defaults to every --interval")
	cmd.Flags().Duration("interval", 0, "time between checks. Env: DIA_WATCH_INTERVAL")
	cmd.Flags().String("metrics-addr", "", "address for /metrics, empty to disable. Env: DIA_WATCH_METRICS_ADDR")
	cmd.Flags().BoolVar(&once, "once", false, "run a single check and exit")
	bind(a.v, cmd, map[string]string{
		config.KeyWatchInterval:    "interval",
		config.KeyWatchMetricsAddr: "metrics-addr",
	})
	return cmd
}

type watcher struct {
	client *dia.Client
	log    logrus.FieldLogger
	out    io.Writer
}

func (w *watcher) check(ctx context.Context) {
	env := w.client.HealthCheck(ctx)
	endpoint := w.client.CurrentEndpoint()
	fmt.Fprintf(w.out, "%s\t%s\t%s\t%s\n",
		time.Now().UTC().Format(time.RFC3339), env.Data.Status, env.Source, endpoint)
	if env.Source != dia.SourceLive {
		w.log.WithField("endpoint", endpoint).Warn("backend unreachable")
	}
}

func metricsServer(addr string, c *dia.Client, platform dia.Platform) *http.Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(dia.NewCollector(c, prometheus.Labels{"platform": string(platform)}))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// cronLogger routes cron's key/value logging into logrus.
type cronLogger struct {
	log logrus.FieldLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(kvFields(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithFields(kvFields(keysAndValues)).WithError(err).Error("cron: " + msg)
}

func kvFields(kv []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}
