package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/AlexKimmel/edgeguard/internal/admin"
	"github.com/AlexKimmel/edgeguard/internal/auth"
	"github.com/AlexKimmel/edgeguard/internal/config"
	"github.com/AlexKimmel/edgeguard/internal/gateway"
	"github.com/AlexKimmel/edgeguard/internal/obs"
	"github.com/AlexKimmel/edgeguard/internal/proxy"
	"github.com/AlexKimmel/edgeguard/internal/ratelimit"
	"github.com/AlexKimmel/edgeguard/internal/ratelimit/memory"
	"github.com/AlexKimmel/edgeguard/internal/ratelimit/stats"
	"github.com/AlexKimmel/edgeguard/internal/routing"
)

const adminPrefix = "/admin/rate-limit"

// Gateway is the assembled HTTP surface plus what has to be released on exit.
type Gateway struct {
	Handler  http.Handler
	Registry *ratelimit.Registry
	Buckets  *memory.Store

	closers []func()
}

func (g *Gateway) Close() {
	for i := len(g.closers) - 1; i >= 0; i-- {
		g.closers[i]()
	}
}

// build wires config into handlers. Background workers stop with ctx.
func build(ctx context.Context, cfg *config.Root, logger zerolog.Logger, reg *prometheus.Registry) (*Gateway, error) {
	g := &Gateway{}

	rr := routing.New()
	for _, rc := range cfg.Routes {
		rt, err := routing.NewRoute(rc.ID, rc.Match.PathPrefix, rc.Match.Methods, rc.Upstream.URL, rc.Timeout())
		if err != nil {
			return nil, err
		}
		rr.Add(rt)
	}

	tokens := make(map[string]auth.Token, len(cfg.Auth.Tokens))
	for _, t := range cfg.Auth.Tokens {
		tokens[t.Token] = auth.Token{
			Subject:           t.Subject,
			PreferredUsername: t.PreferredUsername,
			TokenID:           t.TokenID,
			Name:              t.Name,
			Roles:             t.Roles,
		}
	}
	verifier := auth.NewStatic(tokens)

	g.Registry = ratelimit.NewRegistry(cfg.Limits.TenantDefault)
	g.Buckets = memory.New(
		memory.WithWindow(cfg.Limits.Window),
		memory.WithShards(cfg.Limits.Shards),
		memory.WithMaxKeysPerShard(cfg.Limits.MaxKeysPerShard),
	)
	ctrl := ratelimit.NewController(
		g.Buckets,
		g.Registry,
		ratelimit.NewGlobalLimiter(cfg.Limits.Global, cfg.Limits.Window, nil),
		ratelimit.Limits{Principal: cfg.Limits.Principal, Address: cfg.Limits.Address, Window: cfg.Limits.Window},
	)

	recorder := newRecorder(ctx, cfg.Stats, logger, g)

	metrics := obs.NewMetrics(reg)
	obs.RegisterGauges(reg,
		func() int { return len(g.Registry.Overrides()) },
		g.Buckets.Len,
	)

	forward := gateway.Chain(proxy.Handler(proxy.NewHTTPTransport()), gateway.RouteMatcher(rr))
	pipeline := gateway.NewPipeline(forward, gateway.Stages(
		gateway.BodySize{Max: cfg.Server.MaxBody()},
		gateway.Identity{Verifier: verifier, Header: cfg.Auth.Header, Required: cfg.Auth.Require},
		gateway.Admission{Controller: ctrl, Stats: recorder},
	)...).WithObserver(metrics)

	var adminOpts []admin.Option
	if m, ok := recorder.(*stats.Memory); ok {
		adminOpts = append(adminOpts, admin.WithStats(m))
	}
	adminRoutes := admin.New(g.Registry, adminOpts...).Routes(
		gateway.Trace{}.Middleware(),
		gateway.BodyLimit(cfg.Server.MaxBody()),
		metrics.Middleware("admin"),
		auth.RequireRole(verifier, cfg.Auth.Header, "admin"),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(version))
	})
	mux.Handle(cfg.Observability.PrometheusPath, obs.Handler(reg))
	mux.Handle(adminPrefix+"/", http.StripPrefix(adminPrefix, adminRoutes))
	mux.Handle("/", pipeline)

	g.Handler = gateway.Chain(mux, obs.Logger(logger))
	return g, nil
}

// newRecorder picks the decision stats sink. Redis is used when configured
// and reachable; otherwise counters stay in memory.
func newRecorder(ctx context.Context, cfg config.Stats, logger zerolog.Logger, g *Gateway) stats.Recorder {
	if !cfg.Enabled {
		return stats.Nop{}
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return newMemoryStats(cfg)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("stats redis unreachable, keeping stats in memory")
		_ = rdb.Close()
		return newMemoryStats(cfg)
	}

	sink := stats.NewRedis(rdb,
		stats.WithPrefix(cfg.Prefix),
		stats.WithTTL(cfg.TTL),
		stats.WithRedisTrackKeys(cfg.TrackKeys),
	)
	async := stats.NewAsync(sink, cfg.QueueSize, func(err error) {
		logger.Debug().Err(err).Msg("stats write failed")
	}, stats.WithWriteTimeout(cfg.WriteTimeout))
	runCtx, stop := context.WithCancel(ctx)
	go async.Run(runCtx)

	g.closers = append(g.closers, stop, func() { _ = rdb.Close() })
	logger.Info().Str("addr", cfg.RedisAddr).Msg("stats redis connected")
	return async
}

func newMemoryStats(cfg config.Stats) *stats.Memory {
	return stats.NewMemory(stats.WithTrackKeys(cfg.TrackKeys), stats.WithMaxKeys(cfg.MaxKeys))
}
