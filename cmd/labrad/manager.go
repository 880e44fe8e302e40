package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/labrad"
	"github.com/creachadair/labrad/manager"
	"github.com/creachadair/labrad/peers"
	"github.com/creachadair/labrad/server"
	"github.com/creachadair/taskgroup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func runManager(env *command.Env) error {
	if len(env.Args) != 0 {
		return env.Usagef("Extra arguments: %q", env.Args)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	lst, err := net.Listen("tcp", cfg.Manager.Listen)
	if err != nil {
		return err
	}
	log.Info().Str("addr", lst.Addr().String()).Msg("listening")

	g := taskgroup.New(nil)
	if cfg.Manager.Metrics != "" {
		srv := &http.Server{Addr: cfg.Manager.Metrics, Handler: metricsMux(newRegistry())}
		g.Go(func() error {
			log.Info().Str("addr", srv.Addr).Msg("serving metrics")
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				cancel()
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	m := manager.New(manager.Config{
		Password: cfg.Password,
		Welcome:  cfg.Manager.Welcome,
	}).SetLogger(log.With().Str("component", "manager").Logger())
	g.Go(func() error {
		defer cancel()
		return m.Serve(ctx, peers.NetAccepter(lst))
	})
	return g.Wait()
}

// newRegistry returns a registry for the labrad metrics and the Go runtime
// and process collectors.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	labrad.RegisterMetrics(reg)
	server.RegisterMetrics(reg)
	manager.RegisterMetrics(reg)
	return reg
}

func metricsMux(reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK\n"))
	})
	return mux
}
