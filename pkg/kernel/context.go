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

package kernel

import "context"

// contextID is this package's type for context.Context.Value keys.
type contextID int

const (
	// CtxTask is a Context.Value key for a Task.
	CtxTask contextID = iota
)

// TaskFromContext returns the Task associated with ctx, or nil if there is
// none. Trap hooks run with no task during boot and idle execution, so a
// nil result is a normal condition, not an error.
func TaskFromContext(ctx context.Context) *Task {
	if v := ctx.Value(CtxTask); v != nil {
		return v.(*Task)
	}
	return nil
}

// AsyncContext returns a context.Context that carries t.
func (t *Task) AsyncContext() context.Context {
	return context.WithValue(context.Background(), CtxTask, t)
}
