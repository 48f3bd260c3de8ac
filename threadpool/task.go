package threadpool

import (
	"sync/atomic"
	"unsafe"
)

// Handler is the function a Task runs once eligible. ctx exposes the
// worker's per-task scratch arena.
type Handler func(ctx *TaskContext)

// Task is a unit of work with an optional parent. UnsatisfiedDependencies
// must be initialised to the exact number of children a caller plans to
// dispatch before the first Dispatch call; each child's completion
// decrements it, and the child that drives it to zero enqueues the
// parent.
type Task struct {
	Handler Handler
	Parent  *Task

	unsatisfiedDependencies atomic.Int64
}

// NewTask creates a Task with no parent and no outstanding
// dependencies - it is eligible to run as soon as it is dispatched.
func NewTask(handler Handler) *Task {
	return &Task{Handler: handler}
}

// NewChildTask creates a Task whose completion decrements parent's
// dependency count.
func NewChildTask(handler Handler, parent *Task) *Task {
	return &Task{Handler: handler, Parent: parent}
}

// SetDependencyCount initialises the number of children that must
// complete before this task becomes eligible. Callers must set this
// before dispatching any of those children.
func (t *Task) SetDependencyCount(n int64) {
	t.unsatisfiedDependencies.Store(n)
}

// UnsatisfiedDependencies reports the current outstanding dependency
// count, read with acquire ordering to pair with the release-ordered
// decrement a completing child performs.
func (t *Task) UnsatisfiedDependencies() int64 {
	return t.unsatisfiedDependencies.Load()
}

// TaskContext is handed to a running Task's Handler. It carries the
// identity of the worker executing the task and a scratch arena that is
// cleared between tasks, so handlers can allocate freely without
// tracking lifetimes themselves.
type TaskContext struct {
	WorkerName  string
	WorkerIndex int
	Scratch     ScratchArena
}

// ScratchArena is the subset of arena.Arena a task handler needs.
type ScratchArena interface {
	Alloc(size uintptr) (ptr unsafe.Pointer, actual uintptr, err error)
}
