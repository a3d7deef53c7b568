package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"turntimer-backend/cmd/timerserver/api"
	"turntimer-backend/cmd/timerserver/ws"
	"turntimer-backend/internal/bus"
	"turntimer-backend/internal/cache"
	"turntimer-backend/internal/config"
	"turntimer-backend/internal/coordinator"
	"turntimer-backend/internal/health"
	"turntimer-backend/internal/logging"
	"turntimer-backend/internal/metrics"
	"turntimer-backend/internal/protocol"
	"turntimer-backend/internal/ratelimit"
	"turntimer-backend/internal/store"
)

const (
	persistInterval     = 5 * time.Second
	idleCleanupInterval = 5 * time.Minute
	purgeInterval       = 1 * time.Hour
)

func main() {
	logging.InitLogger()
	cfg := config.Load()

	var st store.Store
	var redisClient *redis.Client
	var ipLimiter ratelimit.IPAllower
	multiInstance := cfg.StorageType == config.StorageRedis

	if multiInstance {
		redisClient = redis.NewClient(&redis.Options{Addr: parseRedisAddr(cfg.RedisURL)})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Warn().Err(err).Msg("redis unreachable at startup, continuing (spec: store connectivity loss degrades to read-only)")
		}
		st = store.NewRedisStore(redisClient)
		ipLimiter = ratelimit.NewIPLimiter(redisClient)
	} else {
		st = store.NewMemoryStore()
		ipLimiter = ratelimit.NewMemoryIPLimiter()
	}

	var pinger health.Pinger
	if multiInstance {
		pinger = redisClient
	}
	healthChecker := health.NewChecker(pinger)

	ch := cache.New(cache.DefaultTTL)

	var busStore store.Store
	if multiInstance {
		busStore = st
	}
	eventBus := bus.New(busStore, cfg.InstanceID)

	promReg := prometheus.NewRegistry()
	m := metrics.New()
	m.Register(promReg)

	coord := coordinator.New(st, ch, eventBus, m, cfg.InstanceID, multiInstance)
	msgReg := protocol.NewRegistry()
	coord.RegisterHandlers(msgReg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	restored, err := coord.RestoreAll(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to restore sessions at startup")
	} else if restored > 0 {
		log.Info().Int("count", restored).Msg("restored sessions from store")
		m.RestoredSessions.Add(float64(restored))
	}

	go runPeriodic(ctx, persistInterval, func() { coord.PersistTracked(ctx) })
	go runPeriodic(ctx, idleCleanupInterval, func() {
		coord.Lifecycle.RunIdleCleanup(ctx, func(id string, fn func() error) error {
			return coord.Lock.WithLock(ctx, id, fn)
		})
	})
	go runPeriodic(ctx, purgeInterval, func() { coord.Lifecycle.PurgeClosed(ctx) })

	wsServer := ws.NewServer(msgReg, eventBus, m, ipLimiter, cfg.OriginAllowed, coord.HandleDisconnect)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(logging.Middleware)
	r.Use(chimw.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return m.Middleware("/ws", next)
	})
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc:  func(r *http.Request, origin string) bool { return cfg.OriginAllowed(origin) },
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", healthChecker.Handler())
	r.Handle("/metrics", metrics.Handler(promReg))
	r.Get("/api/games", api.GamesHandler(coord))
	r.Get("/ws", wsServer.ServeHTTP)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		log.Info().Msg("shutting down")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		coord.Lifecycle.Shutdown(shutdownCtx, func(id string) error {
			return coord.PersistOne(shutdownCtx, id)
		})

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http server shutdown error")
		}
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}()

	log.Info().Str("port", cfg.Port).Str("instanceId", cfg.InstanceID).Bool("multiInstance", multiInstance).Msg("turntimer-backend listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server error")
	}
	log.Info().Msg("server stopped")
}

func runPeriodic(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// parseRedisAddr accepts either a bare host:port or a redis:// URL,
// matching the teacher's permissive REDIS_ADDR handling.
func parseRedisAddr(raw string) string {
	if raw == "" {
		return "localhost:6379"
	}
	if opts, err := redis.ParseURL(raw); err == nil {
		return opts.Addr
	}
	return raw
}
