package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                    string
	AllowedOrigin           string
	DatabaseURL             string
	MigrationsPath          string
	RedisAddr               string
	RedisPassword           string
	RedisDB                 int
	RabbitURL               string
	RemoteBaseURL           string
	RemoteToken             string
	RemoteTimeoutSeconds    int
	StoreID                 string
	InvoicePrefix           string
	InvoicePad              int
	DuplicateWindowSeconds  int
	AuthSecret              string
	AccessTokenTTLMinutes   int
	OfflineReplayBatchLimit int
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	remoteTimeout, err := strconv.Atoi(getEnv("REMOTE_TIMEOUT_SECONDS", "12"))
	if err != nil || remoteTimeout < 1 {
		remoteTimeout = 12
	}
	dupWindow, err := strconv.Atoi(getEnv("DUPLICATE_WINDOW_SECONDS", "120"))
	if err != nil || dupWindow < 1 {
		dupWindow = 120
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	invoicePad, err := strconv.Atoi(getEnv("INVOICE_PAD", "4"))
	if err != nil || invoicePad < 1 {
		invoicePad = 4
	}
	replayLimit, err := strconv.Atoi(getEnv("OFFLINE_REPLAY_BATCH_LIMIT", "50"))
	if err != nil || replayLimit < 1 {
		replayLimit = 50
	}

	cfg := Config{
		Port:                    getEnv("PORT", "8080"),
		AllowedOrigin:           getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		MigrationsPath:          getEnv("MIGRATIONS_PATH", "./migrations"),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		RedisPassword:           os.Getenv("REDIS_PASSWORD"),
		RedisDB:                 redisDB,
		RabbitURL:               os.Getenv("RABBITMQ_URL"),
		RemoteBaseURL:           strings.TrimSpace(os.Getenv("REMOTE_BASE_URL")),
		RemoteToken:             strings.TrimSpace(os.Getenv("REMOTE_TOKEN")),
		RemoteTimeoutSeconds:    remoteTimeout,
		StoreID:                 getEnv("DEFAULT_STORE_ID", "main-store"),
		InvoicePrefix:           getEnv("INVOICE_PREFIX", "INV-"),
		InvoicePad:              invoicePad,
		DuplicateWindowSeconds:  dupWindow,
		AuthSecret:              strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:   tokenTTL,
		OfflineReplayBatchLimit: replayLimit,
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
