package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/viper"

	"github.com/mkarslan/ring-clash-backend/internal/events"
	"github.com/mkarslan/ring-clash-backend/internal/fanout"
	"github.com/mkarslan/ring-clash-backend/internal/match"
	kafkapkg "github.com/mkarslan/ring-clash-backend/internal/pkg/kafka"
	redispkg "github.com/mkarslan/ring-clash-backend/internal/pkg/redis"
)

func main() {
	// --- Configuration Loading ---
	viper.SetConfigName("coordinator")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs/development")
	viper.AutomaticEnv()

	viper.SetDefault("http_server.port", "3001")
	viper.SetDefault("websocket.allowed_origins", []string{"*"})
	viper.SetDefault("match.countdown_tick", time.Second)
	viper.SetDefault("fanout.channel", "ringclash.rooms")
	viper.SetDefault("kafka.topic", "ringclash.match-events")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Error("Failed to read configuration file", "error", err)
			os.Exit(1)
		}
		// Defaults plus environment variables are a complete configuration.
		slog.Warn("No configuration file found, using defaults and environment")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Fan-out Bus (optional, enabled by a Redis address) ---
	var bus *fanout.Bus
	var busPublisher match.Publisher
	if addr := viper.GetString("redis.addr"); addr != "" {
		rdb, err := redispkg.NewClient(redispkg.Config{
			Addr:     addr,
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		})
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		slog.Info("Redis connection successful.")
		bus = fanout.New(rdb, viper.GetString("fanout.channel"))
		busPublisher = bus
	}

	// --- Match Event Producer (optional, enabled by Kafka brokers) ---
	var recorder match.Recorder
	if brokers := viper.GetStringSlice("kafka.brokers"); len(brokers) > 0 {
		producer := events.NewProducer(kafkapkg.NewProducer(brokers, viper.GetString("kafka.topic")))
		defer producer.Close()
		recorder = producer
		slog.Info("Match event producer enabled", "brokers", brokers)
	}

	// --- Dependency Injection ---
	registry := match.NewRegistry()
	matchmaker := match.NewMatchmaker(registry, match.Config{
		CountdownTick: viper.GetDuration("match.countdown_tick"),
		Arbiter:       match.NewArbiter(),
		Bus:           busPublisher,
		Recorder:      recorder,
	})
	relay := match.NewRelay(registry, matchmaker)
	wsHandler := match.NewHandler(matchmaker, relay, viper.GetStringSlice("websocket.allowed_origins"))

	if bus != nil {
		go bus.Run(ctx, func(roomID, from string, msg match.Message) {
			if room, ok := matchmaker.Room(roomID); ok {
				room.DeliverRemote(from, msg)
			}
		})
	}

	// --- HTTP Router and Middleware Setup ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ws", wsHandler.ServeHTTP)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","rooms":%d}`, matchmaker.RoomCount())
	})

	// --- HTTP Server Initialization and Graceful Shutdown ---
	httpPort := viper.GetString("http_server.port")
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", httpPort),
		Handler: r,
	}

	go func() {
		slog.Info("Match coordinator starting...", "port", httpPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Could not start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down coordinator...")
	cancel() // Stops the fan-out subscriber.

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Coordinator stopped.")
}
