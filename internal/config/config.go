package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int
	CryptoSecretKey       string
	FiscalAPIURL          string
	FiscalTimeoutSeconds  int
	ListCacheTTLSeconds   int
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	fiscalTimeout, err := strconv.Atoi(getEnv("FISCAL_TIMEOUT_SECONDS", "20"))
	if err != nil || fiscalTimeout < 1 {
		fiscalTimeout = 20
	}
	listTTL, err := strconv.Atoi(getEnv("LEDGER_CACHE_TTL_SECONDS", "30"))
	if err != nil || listTTL < 1 {
		listTTL = 30
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		CryptoSecretKey:       strings.TrimSpace(os.Getenv("CRYPTO_SECRET_KEY")),
		FiscalAPIURL:          strings.TrimSpace(os.Getenv("FISCAL_API_URL")),
		FiscalTimeoutSeconds:  fiscalTimeout,
		ListCacheTTLSeconds:   listTTL,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
