package main

import (
	"fmt"
	"math/rand"
	"time"
	"unsafe"

	"github.com/spf13/cobra"

	"github.com/moonsugar-systems/moonsugar/heap"
)

var (
	heapBenchReserve      uintptr
	heapBenchAllocs       int
	heapBenchMaxAlloc     uintptr
	heapBenchKeepFraction float64
)

var heapBenchCmd = &cobra.Command{
	Use:   "heap-bench",
	Short: "Drive a heap.Heap through a random alloc/free workload",
	RunE:  runHeapBench,
}

func init() {
	heapBenchCmd.Flags().Uint64Var((*uint64)(&heapBenchReserve), "reserve-bytes", uint64(heap.DefaultReserveSize()), "bytes to reserve up front (0 uses DefaultReserveSize)")
	heapBenchCmd.Flags().IntVar(&heapBenchAllocs, "allocs", 100000, "number of allocations to perform")
	heapBenchCmd.Flags().Uint64Var((*uint64)(&heapBenchMaxAlloc), "max-alloc-bytes", 4096, "largest single allocation size")
	heapBenchCmd.Flags().Float64Var(&heapBenchKeepFraction, "keep-fraction", 0.1, "fraction of live allocations never freed")

	rootCmd.AddCommand(heapBenchCmd)
}

func runHeapBench(cmd *cobra.Command, args []string) error {
	h, err := heap.New(heapBenchReserve)
	if err != nil {
		return fmt.Errorf("heap.New: %w", err)
	}
	defer h.Close()

	live := make([]struct {
		ptr  unsafe.Pointer
		size uintptr
	}, 0, heapBenchAllocs)

	start := time.Now()

	for i := 0; i < heapBenchAllocs; i++ {
		size := uintptr(rand.Int63n(int64(heapBenchMaxAlloc))) + 1

		ptr, actual, err := h.Alloc(size)
		if err != nil {
			return fmt.Errorf("heap.Alloc failed after %d allocations: %w", i, err)
		}

		if rand.Float64() < heapBenchKeepFraction {
			live = append(live, struct {
				ptr  unsafe.Pointer
				size uintptr
			}{ptr, actual})

			continue
		}

		if err := h.Free(ptr, actual); err != nil {
			return fmt.Errorf("heap.Free failed after %d allocations: %w", i, err)
		}
	}

	elapsed := time.Since(start)
	stats := h.Stats()

	fmt.Printf("allocations:      %d\n", heapBenchAllocs)
	fmt.Printf("elapsed:          %s\n", elapsed)
	fmt.Printf("ns/alloc:         %.1f\n", float64(elapsed.Nanoseconds())/float64(heapBenchAllocs))
	fmt.Printf("kept live:        %d\n", len(live))
	fmt.Printf("reserved bytes:   %d\n", stats.ReservedBytes)
	fmt.Printf("committed bytes:  %d\n", stats.CommittedBytes)
	fmt.Printf("free bytes:       %d\n", stats.FreeBytes)
	fmt.Printf("live bytes:       %d\n", stats.LiveBytes)

	for _, alloc := range live {
		if err := h.Free(alloc.ptr, alloc.size); err != nil {
			return fmt.Errorf("heap.Free during cleanup: %w", err)
		}
	}

	return nil
}
