package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/danieleschmidt/GH200-Retrieval-Router-sub004/internal/cluster"
	"github.com/danieleschmidt/GH200-Retrieval-Router-sub004/internal/config"
	"github.com/danieleschmidt/GH200-Retrieval-Router-sub004/internal/events"
	"github.com/danieleschmidt/GH200-Retrieval-Router-sub004/internal/logging"
	"github.com/danieleschmidt/GH200-Retrieval-Router-sub004/internal/metrics"
)

func daemonCmd() *cobra.Command {
	var (
		logLevel string
		httpAddr string
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the router daemon",
		Long:  "Run the balancing core with its health and rebalance loops, serving /metrics and /status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("log-level") {
				cfg.Daemon.LogLevel = logLevel
			}
			if cmd.Flags().Changed("http-addr") {
				cfg.Daemon.HTTPAddr = httpAddr
			}

			logging.InitStructured(cfg.Daemon.LogFormat, cfg.Daemon.LogLevel)
			if cfg.Daemon.RouteLog != "" {
				if err := logging.Default().SetOutput(cfg.Daemon.RouteLog); err != nil {
					return fmt.Errorf("open route log: %w", err)
				}
				defer logging.Default().Close()
			}

			if cfg.Metrics.Enabled {
				metrics.Init(cfg.Metrics.Namespace, nil)
			}

			var notifier events.Notifier
			if cfg.Redis.Addr != "" {
				client := redis.NewClient(&redis.Options{
					Addr:     cfg.Redis.Addr,
					Password: cfg.Redis.Password,
					DB:       cfg.Redis.DB,
				})
				defer client.Close()
				notifier = events.NewRedisNotifier(client)
				logging.Op().Info("event notifier: redis", "addr", cfg.Redis.Addr)
			} else {
				notifier = events.NewChannelNotifier()
				logging.Op().Info("event notifier: in-process channel")
			}
			defer notifier.Close()

			router, err := cluster.NewRouter(cfg.ClusterConfig(), notifier)
			if err != nil {
				return err
			}

			for _, seed := range cfg.Nodes {
				info := cluster.NodeInfo{
					Address:  seed.Address,
					Port:     seed.Port,
					Weight:   seed.Weight,
					Capacity: seed.Capacity,
					Metadata: map[string]string{},
				}
				if seed.Datacenter != "" {
					info.Metadata["datacenter"] = seed.Datacenter
				}
				if seed.Region != "" {
					info.Metadata["region"] = seed.Region
				}
				if _, err := router.RegisterNode(seed.ID, info); err != nil {
					return fmt.Errorf("seed node %s: %w", seed.ID, err)
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			router.Start(ctx)
			defer router.Stop()

			mux := http.NewServeMux()
			if h := metrics.Handler(); h != nil {
				mux.Handle("/metrics", h)
			}
			mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(router.GetSystemMetrics())
			})
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			})

			srv := &http.Server{Addr: cfg.Daemon.HTTPAddr, Handler: mux}
			go func() {
				logging.Op().Info("http server listening", "addr", cfg.Daemon.HTTPAddr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logging.Op().Error("http server failed", "error", err)
				}
			}()

			<-ctx.Done()
			logging.Op().Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&httpAddr, "http-addr", ":8080", "HTTP listen address for /metrics and /status")

	return cmd
}
