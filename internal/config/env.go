// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/vodgate/internal/log"
)

// lookupEnv resolves key through parse. Empty or malformed values fall back to
// def, and the chosen source is logged at debug level.
func lookupEnv[T any](key string, def T, parse func(string) (T, error)) T {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok {
		logger.Debug().Str("key", key).Interface("default", def).Str("source", "default").Msg("using default value")
		return def
	}
	if v == "" {
		logger.Debug().Str("key", key).Interface("default", def).Str("source", "default").
			Msg("using default value (environment variable is empty)")
		return def
	}
	parsed, err := parse(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Interface("default", def).Err(err).
			Msg("invalid value in environment variable, using default")
		return def
	}
	evt := logger.Debug().Str("key", key).Str("source", "environment")
	if sensitive(key) {
		evt = evt.Bool("sensitive", true)
	} else {
		evt = evt.Interface("value", parsed)
	}
	evt.Msg("using environment variable")
	return parsed
}

func sensitive(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "password") || strings.Contains(k, "secret") || strings.Contains(k, "token_key")
}

// ParseString reads a string from environment variable or returns default value.
func ParseString(key, defaultValue string) string {
	return lookupEnv(key, defaultValue, func(s string) (string, error) { return s, nil })
}

// ParseInt reads an integer from environment variable or returns default value.
func ParseInt(key string, defaultValue int) int {
	return lookupEnv(key, defaultValue, strconv.Atoi)
}

// ParseInt64 reads a 64-bit integer from environment variable or returns default value.
func ParseInt64(key string, defaultValue int64) int64 {
	return lookupEnv(key, defaultValue, func(s string) (int64, error) {
		return strconv.ParseInt(s, 10, 64)
	})
}

// ParseDuration reads a duration in Go duration format (e.g. "5s").
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	return lookupEnv(key, defaultValue, time.ParseDuration)
}

// ParseFloat reads a float64 from environment variable or returns default value.
func ParseFloat(key string, defaultValue float64) float64 {
	return lookupEnv(key, defaultValue, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// ParseBool accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	return lookupEnv(key, defaultValue, func(s string) (bool, error) {
		switch strings.ToLower(s) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
		return false, strconv.ErrSyntax
	})
}

// ParseList reads a comma separated list, trimming blanks.
func ParseList(key string, defaultValue []string) []string {
	return lookupEnv(key, defaultValue, func(s string) ([]string, error) {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	})
}

// levelOrDefault keeps a configured level only when zerolog understands it.
func levelOrDefault(level, def string) string {
	if _, err := zerolog.ParseLevel(level); err != nil || level == "" {
		return def
	}
	return level
}
