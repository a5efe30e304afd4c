package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"taskboard-api/api"
)

const (
	backendTables = "tables"
	backendMongo  = "mongo"
	backendMemory = "memory"
)

type config struct {
	Debug bool
	Port  string

	Backend          string
	StorageConnStr   string
	TasksTable       string
	EventsQueue      string
	MongoURI         string
	MongoDatabase    string
	MongoCollection  string
	RedisConnStr     string
	TasksCacheTTL    time.Duration
	DeduperTTL       time.Duration
	TraceSampleRatio float64

	AuthMode     string
	AuthSecret   string
	AuthJWKSURL  string
	AuthAudience string
	AuthIssuer   string

	Dispatcher api.DispatcherConfig
}

type getenv func(string) string

func loadConfig(env getenv) (config, error) {
	var errs []error
	cfg := config{
		Port:            orDefault(env("PORT"), "8080"),
		Backend:         strings.ToLower(orDefault(env("STORAGE_BACKEND"), backendTables)),
		StorageConnStr:  env("STORAGE_CONNECTION_STRING"),
		TasksTable:      orDefault(env("TASKS_TABLE"), "tasks"),
		EventsQueue:     env("EVENTS_QUEUE"),
		MongoURI:        env("MONGODB_URI"),
		MongoDatabase:   orDefault(env("MONGODB_DATABASE"), "taskboard"),
		MongoCollection: orDefault(env("MONGODB_COLLECTION"), "tasks"),
		RedisConnStr:    env("REDIS_CONNECTION_STRING"),
		AuthMode:        strings.ToLower(orDefault(env("AUTH_MODE"), api.AuthModeHS256)),
		AuthSecret:      env("AUTH_SHARED_SECRET"),
		AuthJWKSURL:     env("AUTH_JWKS_URL"),
		AuthAudience:    env("AUTH_AUDIENCE"),
		AuthIssuer:      env("AUTH_ISSUER"),
	}

	if v := env("DEBUG"); v != "" {
		dbg, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid DEBUG: %w", err))
		}
		cfg.Debug = dbg
	}

	cfg.TasksCacheTTL = envDur(env, "TASKS_CACHE_TTL", time.Minute, &errs)
	cfg.DeduperTTL = envDur(env, "DEDUPER_TTL", 24*time.Hour, &errs)
	cfg.Dispatcher = api.DispatcherConfig{
		Workers:        envInt(env, "EVENT_WORKERS", 4, &errs),
		Buffer:         envInt(env, "EVENT_BUFFER", 1024, &errs),
		BatchSize:      envInt(env, "EVENT_BATCH_SIZE", 32, &errs),
		PublishTimeout: envDur(env, "EVENT_PUBLISH_TIMEOUT", 10*time.Second, &errs),
		HandoffTimeout: envDur(env, "EVENT_HANDOFF_TIMEOUT", 15*time.Millisecond, &errs),
	}

	if v := env("TRACE_SAMPLE_RATIO"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil || r < 0 || r > 1 {
			errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE_RATIO: must be within [0, 1]"))
		}
		cfg.TraceSampleRatio = r
	}

	switch cfg.Backend {
	case backendTables:
		if cfg.StorageConnStr == "" {
			errs = append(errs, errors.New("missing storage config: STORAGE_CONNECTION_STRING"))
		}
	case backendMongo:
		if cfg.MongoURI == "" {
			errs = append(errs, errors.New("missing mongo config: MONGODB_URI"))
		}
	case backendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.Backend))
	}
	if cfg.EventsQueue != "" && cfg.StorageConnStr == "" {
		errs = append(errs, errors.New("EVENTS_QUEUE requires STORAGE_CONNECTION_STRING"))
	}

	switch cfg.AuthMode {
	case api.AuthModeHS256:
		if cfg.AuthSecret == "" {
			errs = append(errs, errors.New("missing auth config: AUTH_SHARED_SECRET"))
		}
	case api.AuthModeJWKS:
		if cfg.AuthJWKSURL == "" {
			errs = append(errs, errors.New("missing auth config: AUTH_JWKS_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown AUTH_MODE %q", cfg.AuthMode))
	}

	return cfg, errors.Join(errs...)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func envInt(env getenv, key string, def int, errs *[]error) int {
	v := env(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		*errs = append(*errs, fmt.Errorf("invalid %s: must be a positive integer", key))
		return def
	}
	return n
}

func envDur(env getenv, key string, def time.Duration, errs *[]error) time.Duration {
	v := env(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		*errs = append(*errs, fmt.Errorf("invalid %s: %q", key, v))
		return def
	}
	return d
}

// redisOptions accepts a redis:// URL or the Azure style
// "host:port,password=...,ssl=true" connection string.
func redisOptions(conn string) (*redis.Options, error) {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	if strings.TrimSpace(parts[0]) == "" || strings.Contains(parts[0], "=") {
		return nil, fmt.Errorf("invalid redis connection string")
	}
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}
