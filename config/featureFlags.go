package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	LedgerBackendMySQL  = "mysql"
	LedgerBackendMemory = "memory"
)

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y" || v == "on"
}

// LedgerBackend selects the fact store.
//
// Set via env:
// - LEDGER_BACKEND=mysql (default) | memory
func LedgerBackend() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("LEDGER_BACKEND")))
	if v == LedgerBackendMemory {
		return LedgerBackendMemory
	}
	return LedgerBackendMySQL
}

// AggregateCacheEnabled turns on memoization of cumulative sums.
//
// Set via env:
// - ENABLE_AGGREGATE_CACHE=true
func AggregateCacheEnabled() bool {
	return envBool("ENABLE_AGGREGATE_CACHE")
}

// AggregateCacheTTL bounds how long a memoized sum may live even without a write.
// Env: AGGREGATE_CACHE_TTL_SECONDS (default 600s)
func AggregateCacheTTL() time.Duration {
	ttl := 600
	if v := strings.TrimSpace(os.Getenv("AGGREGATE_CACHE_TTL_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ttl = n
		}
	}
	return time.Duration(ttl) * time.Second
}

// AggregationTimeout caps the month fan-out of one cumulative sum.
// Env: AGGREGATION_TIMEOUT_MS (default 5000ms)
func AggregationTimeout() time.Duration {
	ms := int64(5000)
	if v := strings.TrimSpace(os.Getenv("AGGREGATION_TIMEOUT_MS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			ms = n
		}
	}
	return time.Duration(ms) * time.Millisecond
}

// ReportSlowThreshold is the duration above which an aggregation is logged.
// Env: REPORT_SLOW_MS (default 500ms)
func ReportSlowThreshold() time.Duration {
	ms := int64(500)
	if v := strings.TrimSpace(os.Getenv("REPORT_SLOW_MS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			ms = n
		}
	}
	return time.Duration(ms) * time.Millisecond
}

func SkipMigrations() bool {
	return envBool("SKIP_MIGRATIONS")
}
