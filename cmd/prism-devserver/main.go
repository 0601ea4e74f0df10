package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/prism-sdk/internal/config"
	"github.com/0gfoundation/prism-sdk/internal/devserver"
	"github.com/0gfoundation/prism-sdk/internal/encrypt"
)

func main() {
	publicKeyOut := flag.String("public-key-out", "", "write the enclave public key (PEM) to this file")
	flag.Parse()

	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.DevServer.RedisAddr,
		Password: cfg.DevServer.RedisPassword,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}

	// ── Enclave key ───────────────────────────────────────────────────────────
	key, err := loadOrGenerateKey(cfg.DevServer.PrivateKeyFile, log)
	if err != nil {
		log.Fatal("enclave key", zap.Error(err))
	}
	if *publicKeyOut != "" {
		pemData, err := encrypt.EncodePublicKey(&key.PublicKey)
		if err != nil {
			log.Fatal("encode public key", zap.Error(err))
		}
		if err := os.WriteFile(*publicKeyOut, pemData, 0o644); err != nil {
			log.Fatal("write public key", zap.Error(err))
		}
		log.Info("public key written; point PRISM_PUBLIC_KEY_FILE at it", zap.String("path", *publicKeyOut))
	}

	// ── Handler ───────────────────────────────────────────────────────────────
	issuer, err := devserver.NewIssuer(cfg.DevServer.JWTSecret, cfg.DevServer.TokenTTL)
	if err != nil {
		log.Fatal("jwt issuer", zap.Error(err))
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	h, err := devserver.NewHandler(devserver.Options{
		Campaigns:  devserver.CampaignsFromConfig(cfg.DevServer.Campaigns),
		Key:        key,
		Issuer:     issuer,
		Ledger:     devserver.NewLedger(rdb),
		Registerer: reg,
		Log:        log,
	})
	if err != nil {
		log.Fatal("devserver handler", zap.Error(err))
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.DevServer.Port),
		Handler: devserver.NewRouter(h, reg),
	}

	go func() {
		log.Info("devserver starting", zap.Int("port", cfg.DevServer.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

// loadOrGenerateKey reads the enclave private key, or makes a throwaway one
// when no file is configured.
func loadOrGenerateKey(path string, log *zap.Logger) (*rsa.PrivateKey, error) {
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return encrypt.ParsePrivateKey(b)
	}
	log.Warn("PRISM_PRIVATE_KEY_FILE not set, generating an ephemeral enclave key")
	return rsa.GenerateKey(rand.Reader, 2048)
}
