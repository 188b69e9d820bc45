package benchmark

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"testing"
	"time"

	"lukechampine.com/uint128"

	"github.com/Legendarykuga/archVault/internal/core/domain"
	"github.com/Legendarykuga/archVault/internal/core/service"
	"github.com/Legendarykuga/archVault/internal/storage"
)

// DepositCounts defines the ledger sizes for benchmarking.
var DepositCounts = []int{1000, 10000, 50000}

// SmallDepositCounts for quick benchmarks.
var SmallDepositCounts = []int{1000, 5000}

// benchEpoch is the fixed clock used by every benchmark ledger.
var benchEpoch = time.Unix(1_700_000_000, 0)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// prefillLedger adds count deposits spread over 1000 users. Half of them
// are unlocked at benchEpoch.
func prefillLedger(b *testing.B, v service.Vault, count int) {
	b.Helper()
	ctx := context.Background()
	tokens := domain.Tokens()
	for i := 0; i < count; i++ {
		lock := time.Duration(0)
		if i%2 == 1 {
			lock = time.Hour
		}
		req := &service.DepositRequest{
			User:   fmt.Sprintf("user-%d", i%1000),
			Token:  tokens[i%len(tokens)],
			Amount: uint128.From64(uint64(1_000 + i)),
			Lock:   lock,
		}
		if _, err := v.Deposit(ctx, req); err != nil {
			b.Fatalf("Deposit failed: %v", err)
		}
	}
}

// openEngine opens an exit-mode engine so prefill does not save per deposit.
func openEngine(b *testing.B, backend storage.BackendType) *storage.Engine {
	b.Helper()
	cfg := storage.DefaultConfig(b.TempDir())
	cfg.Backend = backend
	cfg.PersistMode = storage.PersistOnExit
	cfg.BadgerSyncWrites = false
	cfg.Logger = quiet
	cfg.LedgerOptions = []service.Option{service.WithClock(func() time.Time { return benchEpoch })}

	eng, err := storage.Open(context.Background(), cfg)
	if err != nil {
		b.Fatalf("Open failed: %v", err)
	}
	b.Cleanup(func() { eng.Close(context.Background()) })
	return eng
}

// reportMemory reports memory usage.
func reportMemory(b *testing.B, prefix string) {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	b.ReportMetric(float64(m.Alloc)/(1024*1024), prefix+"_MB")
	b.ReportMetric(float64(m.NumGC), prefix+"_GC")
}

// runWithDepositCounts runs a benchmark function with various ledger sizes.
func runWithDepositCounts(b *testing.B, counts []int, benchFn func(b *testing.B, count int)) {
	for _, count := range counts {
		b.Run(fmt.Sprintf("deposits_%d", count), func(b *testing.B) {
			benchFn(b, count)
		})
	}
}
