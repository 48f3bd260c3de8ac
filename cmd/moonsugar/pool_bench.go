package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/moonsugar-systems/moonsugar/arena"
	"github.com/moonsugar-systems/moonsugar/heap"
)

var (
	poolBenchHeapBytes uint64
	poolBenchBaseSize  uint64
	poolBenchRounds    int
	poolBenchPerRound  int
	poolBenchMaxAlloc  uint64
)

var poolBenchCmd = &cobra.Command{
	Use:   "pool-bench",
	Short: "Drive an arena.Arena through repeated alloc-then-Clear rounds",
	RunE:  runPoolBench,
}

func init() {
	poolBenchCmd.Flags().Uint64Var(&poolBenchHeapBytes, "heap-bytes", 64*1024*1024, "backing heap reservation")
	poolBenchCmd.Flags().Uint64Var(&poolBenchBaseSize, "base-size", 4096, "arena base node size")
	poolBenchCmd.Flags().IntVar(&poolBenchRounds, "rounds", 200, "number of alloc/Clear rounds")
	poolBenchCmd.Flags().IntVar(&poolBenchPerRound, "allocs-per-round", 1000, "allocations performed per round")
	poolBenchCmd.Flags().Uint64Var(&poolBenchMaxAlloc, "max-alloc-bytes", 256, "largest single allocation size")

	rootCmd.AddCommand(poolBenchCmd)
}

func runPoolBench(cmd *cobra.Command, args []string) error {
	h, err := heap.New(uintptr(poolBenchHeapBytes))
	if err != nil {
		return fmt.Errorf("heap.New: %w", err)
	}
	defer h.Close()

	a, err := arena.New(h, uintptr(poolBenchBaseSize), arena.WithSticky(true))
	if err != nil {
		return fmt.Errorf("arena.New: %w", err)
	}

	start := time.Now()

	var totalAllocs int

	for round := 0; round < poolBenchRounds; round++ {
		for i := 0; i < poolBenchPerRound; i++ {
			size := uintptr(rand.Int63n(int64(poolBenchMaxAlloc))) + 1

			if _, _, err := a.Alloc(size); err != nil {
				return fmt.Errorf("arena.Alloc failed in round %d: %w", round, err)
			}

			totalAllocs++
		}

		if err := a.Clear(); err != nil {
			return fmt.Errorf("arena.Clear failed in round %d: %w", round, err)
		}
	}

	elapsed := time.Since(start)
	stats := a.Stats()

	fmt.Printf("rounds:           %d\n", poolBenchRounds)
	fmt.Printf("total allocs:     %d\n", totalAllocs)
	fmt.Printf("elapsed:          %s\n", elapsed)
	fmt.Printf("ns/alloc:         %.1f\n", float64(elapsed.Nanoseconds())/float64(totalAllocs))
	fmt.Printf("node count:       %d\n", stats.NodeCount)
	fmt.Printf("total node bytes: %d\n", stats.TotalSize)
	fmt.Printf("allocated bytes:  %d\n", stats.AllocatedSize)

	return nil
}
