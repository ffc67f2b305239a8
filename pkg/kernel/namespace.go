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

// Namespace is the bundle of process-local overrides a task carries: its
// filesystem context and its descriptor table. Forked wholesale when a task
// is created.
type Namespace struct {
	// FSContext is the task's filesystem state.
	FSContext *FSContext

	// FDTable is the task's descriptor table.
	FDTable *FDTable
}

// NewNamespace returns a fresh Namespace rooted at "/" with no open
// descriptors.
func NewNamespace() *Namespace {
	return &Namespace{
		FSContext: NewFSContext(),
		FDTable:   NewFDTable(),
	}
}

// Fork returns an isolated copy of ns.
func (ns *Namespace) Fork() *Namespace {
	return &Namespace{
		FSContext: ns.FSContext.Fork(),
		FDTable:   ns.FDTable.Fork(),
	}
}

// NamespaceFromContext resolves the namespace for ctx: the task's own if a
// task is attached, otherwise the kernel's global fallback. Early-boot and
// idle contexts have no task and land on the fallback.
func (k *Kernel) NamespaceFromContext(ctx context.Context) *Namespace {
	if t := TaskFromContext(ctx); t != nil {
		return t.ns
	}
	return k.globalNS
}
