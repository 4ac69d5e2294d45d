package config

import "time"

// Reservation-core tunables. All environment-overridable; defaults match the
// documented contract (300s hold TTL, 3 optimistic retries, 30s lock timeout,
// 60s sweep interval).
type Settings struct {
	DefaultHoldTTLSeconds  int
	OptimisticMaxRetries   int
	PessimisticLockTimeout time.Duration
	ExpiryCheckInterval    time.Duration
	LockTableShards        int
}

func LoadSettings() Settings {
	return Settings{
		DefaultHoldTTLSeconds:  IntFromEnv("DEFAULT_HOLD_TTL_SECONDS", 300),
		OptimisticMaxRetries:   IntFromEnv("OPTIMISTIC_MAX_RETRIES", 3),
		PessimisticLockTimeout: time.Duration(IntFromEnv("PESSIMISTIC_LOCK_TIMEOUT_SECONDS", 30)) * time.Second,
		ExpiryCheckInterval:    time.Duration(IntFromEnv("EXPIRY_CHECK_INTERVAL_SECONDS", 60)) * time.Second,
		LockTableShards:        IntFromEnv("LOCK_TABLE_SHARDS", 256),
	}
}
