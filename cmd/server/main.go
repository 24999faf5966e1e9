package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shopledger/backend/internal/cache"
	"shopledger/backend/internal/config"
	"shopledger/backend/internal/fiscal"
	"shopledger/backend/internal/httpapi"
	"shopledger/backend/internal/secrets"
	"shopledger/backend/internal/service"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/store/memory"
	pgstore "shopledger/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	ledgerCache := cache.LedgerCache(cache.NoopLedgerCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisLedgerCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop cache", err)
		} else {
			ledgerCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("cache: redis")
		}
	} else {
		log.Println("cache: noop")
	}

	codec, err := secrets.NewDecryptor(cfg.CryptoSecretKey)
	if err != nil {
		log.Fatalf("invalid CRYPTO_SECRET_KEY: %v", err)
	}

	var signer *fiscal.Signer
	if cfg.FiscalAPIURL != "" {
		signer = fiscal.NewSigner(cfg.FiscalAPIURL, time.Duration(cfg.FiscalTimeoutSeconds)*time.Second, codec)
		log.Println("fiscal signer: enabled")
	} else {
		log.Println("fiscal signer: disabled (FISCAL_API_URL not set)")
	}

	svc := service.New(repo, ledgerCache, codec, signer,
		time.Duration(cfg.FiscalTimeoutSeconds)*time.Second,
		time.Duration(cfg.ListCacheTTLSeconds)*time.Second)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("back-office API listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if err := validateCryptoKey(cfg.CryptoSecretKey); err != nil {
		return fmt.Errorf("CRYPTO_SECRET_KEY: %w", err)
	}
	return nil
}

// validateCryptoKey requires a hex-encoded 32-byte AES-256 key.
func validateCryptoKey(key string) error {
	if key == "" {
		return fmt.Errorf("must be set")
	}
	raw, err := hex.DecodeString(key)
	if err != nil {
		return fmt.Errorf("must be hex-encoded: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("must decode to 32 bytes, got %d", len(raw))
	}
	return nil
}
