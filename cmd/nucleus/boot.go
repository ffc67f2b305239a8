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

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"nucleus.dev/nucleus/pkg/config"
	"nucleus.dev/nucleus/pkg/kernel"
	"nucleus.dev/nucleus/pkg/kernel/syscalls"
	"nucleus.dev/nucleus/pkg/log"
	"nucleus.dev/nucleus/pkg/vfs"
)

// Boot implements subcommands.Command for the "boot" command: bring the
// kernel up, run the initial task to completion and report its status.
type Boot struct {
	configPath string
	imagePath  string
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "boot the kernel and run the initial task"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return "boot [flags]\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	f.StringVar(&b.configPath, "config", "", "TOML configuration file; defaults apply when empty")
	f.StringVar(&b.imagePath, "image", "", "host ELF file to install as the init image; a built-in demo image when empty")
}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	cfg := config.Default()
	if b.configPath != "" {
		var err error
		if cfg, err = config.Load(b.configPath); err != nil {
			logrus.Errorf("Bad configuration: %v", err)
			return subcommands.ExitUsageError
		}
	}
	setLogLevel(cfg.LogLevel)

	fs := vfs.NewMemFilesystem()
	if err := installInit(fs, cfg.Init, b.imagePath); err != nil {
		logrus.Errorf("Cannot install init image: %v", err)
		return subcommands.ExitFailure
	}

	k := kernel.New(kernel.Options{Layout: cfg.Layout(), FS: fs})
	syscalls.Register(k)
	k.RegisterProgram(cfg.Init, demoInit)
	k.Start()

	logrus.Infof("Booting with init %q", cfg.Init)
	status := k.SpawnInitial(cfg.Init).Join()
	logrus.Infof("Init exited with status %d", status)
	if status != 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		log.SetLevel(log.Debug)
		logrus.SetLevel(logrus.DebugLevel)
	case "warning":
		log.SetLevel(log.Warning)
		logrus.SetLevel(logrus.WarnLevel)
	default:
		log.SetLevel(log.Info)
		logrus.SetLevel(logrus.InfoLevel)
	}
}
