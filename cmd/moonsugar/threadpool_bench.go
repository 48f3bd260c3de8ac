package main

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/moonsugar-systems/moonsugar/threadpool"
)

var (
	threadpoolBenchWorkers  int
	threadpoolBenchTasks    int
	threadpoolBenchChildren int
	threadpoolBenchScratch  uint64
)

var threadpoolBenchCmd = &cobra.Command{
	Use:   "threadpool-bench",
	Short: "Dispatch a batch of parent/child tasks through a ThreadPool",
	RunE:  runThreadpoolBench,
}

func init() {
	threadpoolBenchCmd.Flags().IntVar(&threadpoolBenchWorkers, "workers", 0, "worker count (0 uses GOMAXPROCS)")
	threadpoolBenchCmd.Flags().IntVar(&threadpoolBenchTasks, "tasks", 10000, "number of parent tasks to dispatch")
	threadpoolBenchCmd.Flags().IntVar(&threadpoolBenchChildren, "children-per-task", 4, "children dispatched per parent")
	threadpoolBenchCmd.Flags().Uint64Var(&threadpoolBenchScratch, "scratch-bytes", 64, "scratch arena bytes each child touches")

	rootCmd.AddCommand(threadpoolBenchCmd)
}

func runThreadpoolBench(cmd *cobra.Command, args []string) error {
	opts := []threadpool.Option{}
	if threadpoolBenchWorkers > 0 {
		opts = append(opts, threadpool.WithWorkerCount(threadpoolBenchWorkers))
	}

	pool, err := threadpool.New(opts...)
	if err != nil {
		return fmt.Errorf("threadpool.New: %w", err)
	}
	defer pool.Shutdown()

	var (
		completed atomic.Int64
		wg        sync.WaitGroup
	)

	wg.Add(threadpoolBenchTasks)

	start := time.Now()

	for i := 0; i < threadpoolBenchTasks; i++ {
		parent := threadpool.NewTask(func(ctx *threadpool.TaskContext) {
			completed.Add(1)
			wg.Done()
		})
		parent.SetDependencyCount(int64(threadpoolBenchChildren))

		if err := pool.Dispatch(parent); err != nil {
			return fmt.Errorf("dispatch parent %d: %w", i, err)
		}

		for c := 0; c < threadpoolBenchChildren; c++ {
			child := threadpool.NewChildTask(func(ctx *threadpool.TaskContext) {
				if _, _, err := ctx.Scratch.Alloc(uintptr(threadpoolBenchScratch)); err != nil {
					return
				}
			}, parent)

			if err := pool.Dispatch(child); err != nil {
				return fmt.Errorf("dispatch child %d of parent %d: %w", c, i, err)
			}
		}
	}

	wg.Wait()

	elapsed := time.Since(start)
	stats := pool.Stats()

	fmt.Printf("parent tasks:     %d\n", threadpoolBenchTasks)
	fmt.Printf("children/task:    %d\n", threadpoolBenchChildren)
	fmt.Printf("elapsed:          %s\n", elapsed)
	fmt.Printf("dispatched:       %d\n", stats.TasksDispatched)
	fmt.Printf("completed:        %d\n", stats.TasksCompleted)
	fmt.Printf("dropped:          %d\n", stats.TasksDropped)
	fmt.Printf("queue depth:      %d\n", stats.QueueDepth)

	return nil
}
