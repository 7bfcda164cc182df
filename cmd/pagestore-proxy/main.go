// Command pagestore-proxy serves paginated upstream JSON APIs through the
// pagination engine, with a shared response cache and rate limit tracking.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/pagestore/internal/config"
	"github.com/Sternrassler/pagestore/internal/server"
	"github.com/Sternrassler/pagestore/pkg/fetchcache"
	"github.com/Sternrassler/pagestore/pkg/logging"
	"github.com/Sternrassler/pagestore/pkg/pagination"
	"github.com/Sternrassler/pagestore/pkg/ratelimit"
	"github.com/Sternrassler/pagestore/pkg/upstream"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "pagestore-proxy: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("pagestore-proxy", flag.ContinueOnError)
	configPath := flags.StringP("config", "c", getEnv("PAGESTORE_CONFIG", ""), "path to the JSONC config file")
	listen := flags.String("listen", getEnv("LISTEN_ADDR", ""), "HTTP listen address (overrides config)")
	redisAddr := flags.String("redis", getEnv("REDIS_URL", ""), "Redis address for the shared cache (overrides config)")
	logLevel := flags.String("log-level", getEnv("LOG_LEVEL", ""), "log level: debug, info, warn, error")
	userAgent := flags.String("user-agent", getEnv("USER_AGENT", ""), "User-Agent sent upstream (overrides config)")
	pretty := flags.Bool("pretty", false, "human readable console logs")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath, config.Overrides{
		Listen:    *listen,
		Redis:     *redisAddr,
		LogLevel:  *logLevel,
		UserAgent: *userAgent,
	})
	if err != nil {
		return err
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	logging.Setup(logging.Config{
		Level:   level,
		Pretty:  cfg.LogPretty || *pretty,
		Output:  os.Stderr,
		Service: "pagestore-proxy",
	})
	logger := logging.NewLogger("proxy")

	var redisClient *redis.Client
	if cfg.Redis != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.Redis, err)
		}
		logger.Info().Str("redis", cfg.Redis).Msg("Connected to Redis")
	}

	srv, err := build(cfg, redisClient, logger)
	if err != nil {
		return err
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           routes(srv, redisClient),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Listen).
			Int("resources", len(cfg.Resources)).
			Str("config", cfg.Source).
			Msg("Starting pagestore proxy")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// build registers one resource per configured upstream and returns the
// server routing to them. redisClient may be nil.
func build(cfg config.Config, redisClient *redis.Client, logger zerolog.Logger) (*server.Server, error) {
	store := pagination.NewStore(pagination.WithLogger(logger))

	var cache *fetchcache.Manager
	if cfg.CacheTTL > 0 {
		cache = fetchcache.NewManager(fetchcache.Options{
			Redis:  redisClient,
			TTL:    time.Duration(cfg.CacheTTL),
			Logger: logger.With().Str("component", "fetchcache").Logger(),
		})
	}

	resources := make(map[string]server.Resource, len(cfg.Resources))
	for _, rc := range cfg.Resources {
		fetch, err := upstreamFetch(cfg, rc, redisClient, logger)
		if err != nil {
			return nil, fmt.Errorf("resource %s: %w", rc.Name, err)
		}
		if cache != nil {
			fetch = fetchcache.Wrap(cache, rc.Name, fetch)
		}

		ctrl, err := pagination.CreateResource(store, rc.Name, fetch, rc.Options())
		if err != nil {
			return nil, fmt.Errorf("resource %s: %w", rc.Name, err)
		}
		resources[rc.Name] = server.Resource{Controller: ctrl, Cache: cache}
	}

	return server.New(store, resources, logger.With().Str("component", "server").Logger()), nil
}

func upstreamFetch(cfg config.Config, rc config.ResourceConfig, redisClient *redis.Client, logger zerolog.Logger) (pagination.FetchFunc[server.Item], error) {
	u, err := url.Parse(rc.URL)
	if err != nil {
		return nil, err
	}

	clientLogger := logger.With().Str("component", "upstream").Str("resource", rc.Name).Logger()
	uc := upstream.DefaultConfig(rc.URL, cfg.UserAgent)
	uc.Headers = rc.Headers
	uc.Logger = &clientLogger
	uc.RateLimit = ratelimit.NewTracker(redisClient, u.Host, clientLogger)

	client, err := upstream.New(uc)
	if err != nil {
		return nil, err
	}
	return upstream.FetchFunc[server.Item](client), nil
}

// routes adds the readiness check to the server routes.
func routes(srv *server.Server, redisClient *redis.Client) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", srv.Handler())
	mux.HandleFunc("GET /ready", readyHandler(redisClient))
	return mux
}

// readyHandler reports 503 while the shared cache is unreachable.
func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
