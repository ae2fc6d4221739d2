package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/clinrelay/upstream-client/pkg/audit"
	"github.com/clinrelay/upstream-client/pkg/cache"
	"github.com/clinrelay/upstream-client/pkg/client"
	"github.com/clinrelay/upstream-client/pkg/keys"
	"github.com/clinrelay/upstream-client/pkg/logging"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Pretty: getEnv("LOG_PRETTY", "") == "true",
		Output: os.Stderr,
	})

	keyName := getEnv("UPSTREAM_KEY_NAME", "default")
	baseURL := strings.TrimSuffix(getEnv("UPSTREAM_BASE_URL", ""), "/")
	token := getEnv("UPSTREAM_TOKEN", "")
	port := getEnv("PORT", "8080")

	if baseURL == "" {
		logger.Fatal().Msg("UPSTREAM_BASE_URL is required")
	}

	provider := keys.NewStaticProvider(&keys.Key{
		Name:       keyName,
		Credential: token,
		BaseURL:    baseURL,
	})

	cfg := client.DefaultConfig(keyName, provider)
	cfg.Audit = audit.NewZerologSink(logging.NewLogger("audit"))

	// A Redis cache store is optional; without it the client keeps its
	// bounded in-memory cache.
	if redisURL := getEnv("REDIS_URL", ""); redisURL != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: redisURL})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal().Err(err).Str("redis_url", redisURL).Msg("Failed to connect to Redis")
		}
		cfg.CacheStore = cache.NewRedisStore(redisClient, keyName, logging.NewLogger("cache"))
		logger.Info().Str("redis_url", redisURL).Msg("Using Redis response cache")
	}

	upstream, err := client.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create upstream client")
	}
	defer upstream.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthzHandler(upstream))
	mux.HandleFunc("/stats", statsHandler(upstream))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/", proxyHandler(upstream))

	addr := ":" + port
	logger.Info().
		Str("addr", addr).
		Str("upstream", baseURL).
		Str("key_name", keyName).
		Msg("Starting upstream proxy")

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func healthzHandler(upstream *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if upstream.HealthCheck(r.Context()) {
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, "ok")
			return
		}
		http.Error(w, "upstream unhealthy", http.StatusServiceUnavailable)
	}
}

func statsHandler(upstream *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(upstream.Stats()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// proxyHandler forwards /api/<path> through the resilient client.
func proxyHandler(upstream *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api")
		if r.URL.RawQuery != "" {
			path += "?" + r.URL.RawQuery
		}

		var body []byte
		if r.Body != nil {
			var err error
			body, err = io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, "read request body", http.StatusBadRequest)
				return
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		resp, err := upstream.Do(ctx, r.Method, path, body)
		if err != nil {
			writeClientError(w, err)
			return
		}

		for key, values := range resp.Header {
			for _, value := range values {
				w.Header().Add(key, value)
			}
		}
		w.Header().Set("X-Request-ID", resp.RequestID)
		w.WriteHeader(resp.StatusCode)
		w.Write(resp.Body)
	}
}

// writeClientError maps the client's error taxonomy onto proxy responses.
func writeClientError(w http.ResponseWriter, err error) {
	e, ok := client.AsError(err)
	if !ok {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	status := http.StatusBadGateway
	switch e.Kind {
	case client.KindRateLimited:
		status = http.StatusTooManyRequests
	case client.KindCircuitOpen:
		status = http.StatusServiceUnavailable
	case client.KindTimeout:
		status = http.StatusGatewayTimeout
	case client.KindValidation:
		status = http.StatusBadRequest
	case client.KindUpstreamClient, client.KindUpstreamServer:
		if e.StatusCode > 0 {
			status = e.StatusCode
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error":      e.Message,
		"kind":       e.Kind,
		"request_id": e.RequestID,
	})
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
