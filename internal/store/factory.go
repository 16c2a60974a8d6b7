// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/ManuGH/vodgate/internal/clock"
	"github.com/ManuGH/vodgate/internal/persistence/sqlite"
)

// Options selects and configures the persistence backends.
type Options struct {
	Backend string // "sqlite" (default) or "memory"
	Path    string // sqlite database file
	Tokens  string // "" to keep tokens in Backend, or "redis"
	Redis   RedisConfig
	Clock   clock.Clock
	Logger  zerolog.Logger
}

// Open builds the Store described by opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	backend := opts.Backend
	if backend == "" {
		backend = "sqlite"
	}

	var base Store
	switch backend {
	case "memory":
		base = NewMemoryStore(opts.Clock)
	case "sqlite":
		s, err := NewSqliteStore(ctx, opts.Path, opts.Clock)
		if err != nil {
			return nil, err
		}
		problems, err := sqlite.QuickCheck(ctx, s.DB)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		if len(problems) > 0 {
			opts.Logger.Warn().
				Str("path", opts.Path).
				Strs("problems", problems).
				Msg("sqlite integrity check reported problems")
		}
		base = s
	default:
		return nil, fmt.Errorf("unknown store backend: %s", backend)
	}

	switch opts.Tokens {
	case "", backend:
		return base, nil
	case "redis":
		tokens, err := NewRedisTokenStore(ctx, opts.Redis, opts.Clock, opts.Logger)
		if err != nil {
			_ = base.Close()
			return nil, err
		}
		return Compose(base, base, tokens, base, tokens), nil
	default:
		_ = base.Close()
		return nil, fmt.Errorf("unknown token backend: %s", opts.Tokens)
	}
}

type composite struct {
	VideoStore
	StatsStore
	TokenStore
	closers []io.Closer
}

// Compose assembles a Store from separate backends. Close closes every
// closer in order and joins their errors.
func Compose(videos VideoStore, stats StatsStore, tokens TokenStore, closers ...io.Closer) Store {
	return &composite{VideoStore: videos, StatsStore: stats, TokenStore: tokens, closers: closers}
}

func (c *composite) Close() error {
	var errs []error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
