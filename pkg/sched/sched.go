// Copyright 2025 The Nucleus Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sched runs tasks on goroutines.
//
// Each spawned task gets a dedicated goroutine and the Go runtime does the
// actual scheduling. The package tracks only what the kernel needs on top:
// whether a task is still running, its exit code once it is not, and a way
// to wait for it.
package sched

import (
	"runtime"
	"sync/atomic"
)

// State is the lifecycle state of a spawned task.
type State int32

const (
	// Running means the task's goroutine has not returned.
	Running State = iota

	// Exited means the task's goroutine has returned and its exit code
	// is final.
	Exited
)

// TaskGoroutine is a single task running on its own goroutine.
type TaskGoroutine struct {
	// name is the task's name, for logging. Immutable.
	name string

	// state is the task's lifecycle state.
	state atomic.Int32

	// exitCode is valid only after state becomes Exited.
	exitCode atomic.Int32

	// done is closed when the goroutine returns.
	done chan struct{}
}

// Spawn starts f on a new goroutine and returns its handle. The task is
// Running until f returns; f's return value becomes the exit code.
func Spawn(name string, f func() int32) *TaskGoroutine {
	tg := &TaskGoroutine{
		name: name,
		done: make(chan struct{}),
	}
	go func() {
		code := f()
		tg.exitCode.Store(code)
		tg.state.Store(int32(Exited))
		close(tg.done)
	}()
	return tg
}

// Name returns the task's name.
func (tg *TaskGoroutine) Name() string {
	return tg.name
}

// State returns the task's lifecycle state.
func (tg *TaskGoroutine) State() State {
	return State(tg.state.Load())
}

// ExitCode returns the task's exit code.
//
// Preconditions: State() == Exited.
func (tg *TaskGoroutine) ExitCode() int32 {
	return tg.exitCode.Load()
}

// Join blocks until the task has exited and returns its exit code.
func (tg *TaskGoroutine) Join() int32 {
	<-tg.done
	return tg.exitCode.Load()
}

// Yield gives up the processor, letting other runnable tasks proceed. It
// makes no guarantee about when the caller resumes.
func Yield() {
	runtime.Gosched()
}
