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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"nucleus.dev/nucleus/pkg/hostarch"
	"nucleus.dev/nucleus/pkg/loader"
)

// Elf implements subcommands.Command for the "elf" command, which parses
// an image through the loader and prints what would be mapped.
type Elf struct {
	base uint64
}

// Name implements subcommands.Command.Name.
func (*Elf) Name() string {
	return "elf"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Elf) Synopsis() string {
	return "inspect an ELF image as the loader sees it"
}

// Usage implements subcommands.Command.Usage.
func (*Elf) Usage() string {
	return "elf [flags] <image>\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (e *Elf) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&e.base, "base", 0x1000, "load-base hint for position-independent images")
}

// Execute implements subcommands.Command.Execute.
func (e *Elf) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	raw, err := os.ReadFile(f.Arg(0))
	if err != nil {
		logrus.Errorf("Cannot read %q: %v", f.Arg(0), err)
		return subcommands.ExitFailure
	}
	img, err := loader.Load(raw, hostarch.Addr(e.base))
	if err != nil {
		logrus.Errorf("Cannot load %q: %v", f.Arg(0), err)
		return subcommands.ExitFailure
	}

	fmt.Printf("base:  %#x\n", uint64(img.Base))
	fmt.Printf("entry: %#x\n", uint64(img.Entry))
	for _, seg := range img.Segments {
		fmt.Printf("segment %#x +%#x %v (%d file bytes)\n", uint64(seg.Addr), seg.Len, seg.Access, len(seg.Data))
	}
	for _, rel := range img.Relocations {
		fmt.Printf("relocation *%#x = %#x (%d bytes)\n", uint64(rel.Target), rel.Value, rel.Width)
	}
	for _, a := range img.Auxv {
		fmt.Printf("auxv %d = %#x\n", a.Tag, a.Val)
	}
	return subcommands.ExitSuccess
}
