// Package benchmark provides performance benchmarks for ArchVault.
//
// Run benchmarks with:
//
//	go test -bench=. -benchmem ./internal/tests/benchmark/...
//
// Run only the persistence benchmarks:
//
//	go test -bench=BenchmarkSave -benchmem -benchtime=10s ./internal/tests/benchmark/...
//
// Compare results:
//
//	benchstat old.txt new.txt
package benchmark
