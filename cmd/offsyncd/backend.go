package main

import (
	"context"
	"fmt"
	"net"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/offsync/config"
	zaplog "github.com/unkn0wn-root/offsync/log/zap"
	"github.com/unkn0wn-root/offsync/obs"
	"github.com/unkn0wn-root/offsync/store"
	"github.com/unkn0wn-root/offsync/store/bigcache"
	"github.com/unkn0wn-root/offsync/store/memstore"
	"github.com/unkn0wn-root/offsync/store/redis"
	"github.com/unkn0wn-root/offsync/store/ristretto"
	"github.com/unkn0wn-root/offsync/store/sqlite"
	"github.com/unkn0wn-root/offsync/version"
)

// backend is the opener selected by configuration and whatever it must release.
type backend struct {
	open    store.Opener
	closers []func() error
}

func (b *backend) Close() error {
	var first error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func openBackend(ctx context.Context, cfg config.StoreConfig) (*backend, error) {
	b := &backend{}
	var gens version.Gens

	switch cfg.Backend {
	case "sqlite":
		b.open = sqlite.Opener(cfg.Dir)
	case "memory":
		b.open = memstore.NewRegistry().Open
	case "bigcache":
		reg := bigcache.NewRegistry(bigcache.Config{})
		b.open = reg.Open
		b.closers = append(b.closers, reg.Close)
	case "redis":
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		b.open = redis.Opener(rdb, cfg.RedisPrefix)
		b.closers = append(b.closers, rdb.Close)
		// generations shared through redis keep read caches of several daemons coherent
		gens = version.NewRedis(rdb, cfg.RedisPrefix, 24*time.Hour)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}

	if cfg.ReadCache {
		if gens == nil {
			local := version.NewLocal(time.Hour, 24*time.Hour)
			gens = local
		}
		g := gens
		b.closers = append(b.closers, func() error { return g.Close(context.Background()) })
		rc := ristretto.DefaultConfig()
		rc.Gens = gens
		b.open = ristretto.Wrap(b.open, rc)
	}
	return b, nil
}

func newLogger(cfg config.LogConfig) (*zap.Logger, obs.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zl, err := zc.Build()
	if err != nil {
		return nil, nil, err
	}
	return zl, zaplog.New(zl.Named("offsyncd")), nil
}

// hostPort adds the scheme's default port to an upstream used as a probe target.
func hostPort(host, scheme string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	if scheme == "https" {
		return net.JoinHostPort(host, "443")
	}
	return net.JoinHostPort(host, "80")
}
