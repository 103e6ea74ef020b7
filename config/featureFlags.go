package config

import (
	"os"
	"strings"
	"time"
)

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// DistributedLocksEnabled makes ledger locks span instances through redislock.
// Required when more than one API instance writes to the same database.
//
// Set via env:
// - DISTRIBUTED_LOCKS=true
func DistributedLocksEnabled() bool {
	return envBool("DISTRIBUTED_LOCKS")
}

// AuditPublishEnabled fans committed audit entries out to Pub/Sub.
//
// Set via env:
// - PUBSUB_PROJECT_ID and PUBSUB_AUDIT_TOPIC both non-empty
func AuditPublishEnabled() bool {
	return strings.TrimSpace(os.Getenv("PUBSUB_PROJECT_ID")) != "" && AuditTopic() != ""
}

func AuditTopic() string {
	return strings.TrimSpace(os.Getenv("PUBSUB_AUDIT_TOPIC"))
}

// MigrationsEnabled is false when SKIP_MIGRATIONS is set.
func MigrationsEnabled() bool {
	return !envBool("SKIP_MIGRATIONS")
}

// StoreDriver is "mysql" (default) or "memory".
func StoreDriver() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("STORE_DRIVER")))
	if v == "" {
		return "mysql"
	}
	return v
}

// CycleCacheTTL is how long GET /cycles responses are cached in redis.
// CYCLE_CACHE_SECONDS=0 disables the cache.
func CycleCacheTTL() time.Duration {
	return time.Duration(intFromEnv("CYCLE_CACHE_SECONDS", 30)) * time.Second
}
