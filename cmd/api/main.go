package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/punchamoorthee/walletops/internal/api"
	"github.com/punchamoorthee/walletops/internal/config"
	"github.com/punchamoorthee/walletops/internal/logging"
	"github.com/punchamoorthee/walletops/internal/service"
	"github.com/punchamoorthee/walletops/internal/store"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		// The configured logger does not exist yet at this point.
		boot := logging.New("info", "production")
		boot.Fatal().Err(err).Msg("config load failed")
	}

	log := logging.New(cfg.LogLevel, cfg.Env)

	if err := store.Migrate(cfg.DBSource, cfg.MigrationsPath); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, store.Options{
		DSN:             cfg.DBSource,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ConnectTimeout:  cfg.DBConnTimeout,
		MaxConnLifetime: cfg.DBConnLifetime,
		MaxConnIdleTime: cfg.DBConnIdleTime,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to connect to database")
	}
	defer st.Close()

	engine := service.NewEngine(st.Pool(), log)
	handler := api.NewHandler(engine, st, log, cfg.RequestTimeout)

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", handler.Health).Methods("GET")

	wallet := r.PathPrefix("/api/v1/wallet").Subrouter()
	wallet.HandleFunc("/topup", handler.Topup).Methods("POST")
	wallet.HandleFunc("/bonus", handler.Bonus).Methods("POST")
	wallet.HandleFunc("/spend", handler.Spend).Methods("POST")
	wallet.HandleFunc("/{userId}/balance", handler.Balance).Methods("GET")
	wallet.HandleFunc("/{userId}/transactions", handler.Transactions).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown incomplete")
	}
}
