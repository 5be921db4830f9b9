package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"print-order-service/handlers"
	"print-order-service/internal/auth"
	"print-order-service/internal/checkout"
	"print-order-service/internal/config"
	"print-order-service/internal/consul"
	"print-order-service/internal/health"
	"print-order-service/internal/logging"
	"print-order-service/internal/orders"
	"print-order-service/internal/payments/stripepay"
	"print-order-service/internal/stores/kafka"
	"print-order-service/internal/stores/postgres"
	"print-order-service/internal/stores/redis"
	"print-order-service/internal/webhook"
	"print-order-service/pkg/logkey"
	"strconv"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
)

func main() {
	if err := startApp(); err != nil {
		slog.Error("order service stopped", slog.String(logkey.ERROR, err.Error()))
		os.Exit(1)
	}
}

func startApp() error {
	env := os.Getenv("APP_ENV") // dev | staging | prod
	if env == "" {
		env = "dev"
	}
	cfg, err := config.Load("configs", env)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	_, closer := logging.Init(cfg.App.Name, cfg.App.LogFile, cfg.App.LogLevel)
	defer closer.Close()

	// Amounts leave the API as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Postgres
	pool, err := postgres.Open(ctx, cfg.Database.DSN, cfg.Database.MaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	if cfg.Database.Migrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			return err
		}
	}
	store, err := postgres.NewConf(pool)
	if err != nil {
		return err
	}

	// Kafka and Redis, both optional
	var pub orders.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		k, err := kafka.NewConf(cfg.Kafka.Brokers, cfg.Kafka.ClientID)
		if err != nil {
			return err
		}
		defer k.Close()
		pub = k
	} else {
		slog.Warn("main: kafka brokers not configured, order events are not published")
	}

	var replay webhook.ReplayLog
	if cfg.Redis.Addr != "" {
		rdb, err := redis.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		rl, err := redis.NewReplayLog(rdb, cfg.Redis.ReplayTTL)
		if err != nil {
			return err
		}
		replay = rl
	} else {
		slog.Warn("main: redis not configured, webhook replay log disabled")
	}

	// Services
	gateway, err := stripepay.NewConf(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret)
	if err != nil {
		return err
	}
	o, err := orders.NewConf(store, pub)
	if err != nil {
		return err
	}
	builder, err := checkout.NewBuilder(store, o, gateway, cfg.App.URL)
	if err != nil {
		return err
	}
	rec, err := webhook.NewReconciler(gateway, store, replay, pub)
	if err != nil {
		return err
	}
	k, err := auth.NewKeys(cfg.Security.JWTSecret, cfg.Security.Issuer)
	if err != nil {
		return err
	}

	// gRPC health
	var hs *health.Server
	if cfg.GRPC.HealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.HealthAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.GRPC.HealthAddr, err)
		}
		hs = health.NewServer(pool)
		go hs.Watch(ctx, 10*time.Second)
		go func() {
			if err := hs.Serve(lis); err != nil {
				slog.Error("main: grpc health server stopped", slog.String(logkey.ERROR, err.Error()))
			}
		}()
		defer hs.Stop()
	}

	// HTTP
	api := http.Server{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		Handler:      handlers.API(cfg.HTTP.Prefix, k, handlers.NewHandler(o, builder, rec, cfg.HTTP.OpTimeout)),
	}

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("main: API listening", slog.String("Addr", api.Addr), slog.String("Env", env))
		serverErrors <- api.ListenAndServe()
	}()

	// Consul
	if cfg.Consul.Addr != "" {
		client, err := consul.NewClient(cfg.Consul.Addr)
		if err != nil {
			return err
		}
		port := cfg.Consul.ServicePort
		if port == 0 {
			_, p, _ := net.SplitHostPort(cfg.HTTP.Addr)
			port, _ = strconv.Atoi(p)
		}
		serviceID, err := consul.Register(client, consul.Registration{
			Name:       cfg.Consul.ServiceName,
			Host:       cfg.Consul.ServiceHost,
			Port:       port,
			HealthPath: "/ping",
			GRPCHealth: grpcHealthTarget(cfg.Consul.ServiceHost, cfg.GRPC.HealthAddr),
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := consul.Deregister(client, serviceID); err != nil {
				slog.Error("main: consul deregister failed", slog.String(logkey.ERROR, err.Error()))
			}
		}()
	}

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.Info("main: shutdown started")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := api.Shutdown(shutdownCtx); err != nil {
			_ = api.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}
	return nil
}

// grpcHealthTarget is the address consul dials for the grpc check.
func grpcHealthTarget(host, listenAddr string) string {
	if listenAddr == "" {
		return ""
	}
	_, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return ""
	}
	return net.JoinHostPort(host, port)
}
