package keytest

import (
	"context"
	"testing"

	"mercator-hq/keyweave/pkg/audit"
	"mercator-hq/keyweave/pkg/audit/storage"
	"mercator-hq/keyweave/pkg/keypool"
)

// Key returns an enabled key record with a derived credential.
func Key(id string, weight, rpm int) keypool.KeyRecord {
	return keypool.KeyRecord{
		ID:                   id,
		Weight:               weight,
		Enabled:              true,
		MaxRequestsPerMinute: rpm,
		Credential:           "sk-test-" + id,
	}
}

// AuditLog returns an in-memory audit log closed at test cleanup.
func AuditLog(t testing.TB) *audit.Log {
	t.Helper()
	log := audit.NewLog(storage.NewMemoryStorage(), audit.LogOptions{})
	t.Cleanup(func() { _ = log.Close() })
	return log
}

// Pool returns a pool over keys backed by an in-memory audit log.
func Pool(t testing.TB, keys ...keypool.KeyRecord) (*keypool.Pool, *audit.Log) {
	t.Helper()
	log := AuditLog(t)
	p, err := keypool.New(keys, log)
	if err != nil {
		t.Fatalf("keypool.New() error = %v", err)
	}
	return p, log
}

// Records returns every audit record, newest first.
func Records(t testing.TB, log *audit.Log) []*audit.Record {
	t.Helper()
	records, err := log.All(context.Background(), nil)
	if err != nil {
		t.Fatalf("audit query failed: %v", err)
	}
	return records
}

// Weights returns the current weights of p.
func Weights(p *keypool.Pool) map[string]int {
	return p.CurrentView().Weights()
}
