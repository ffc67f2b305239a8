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

// Package config holds the boot configuration: the user memory geometry
// and logging options, loadable from a TOML file.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"nucleus.dev/nucleus/pkg/hostarch"
	"nucleus.dev/nucleus/pkg/kernel"
)

// Memory is the user address-space geometry section.
type Memory struct {
	// UserBase is the lowest mappable user address.
	UserBase uint64 `toml:"user_base"`

	// UserCeiling is one past the highest mappable user address.
	UserCeiling uint64 `toml:"user_ceiling"`

	// HeapBottom is the bottom of every task's heap window.
	HeapBottom uint64 `toml:"heap_bottom"`

	// HeapMax is the maximum heap size in bytes.
	HeapMax uint64 `toml:"heap_max"`

	// StackSize is the user stack size in bytes.
	StackSize uint64 `toml:"stack_size"`
}

// Config is the complete boot configuration.
type Config struct {
	// Memory is the user memory geometry.
	Memory Memory `toml:"memory"`

	// LogLevel is "warning", "info" or "debug".
	LogLevel string `toml:"log_level"`

	// Init is the path of the initial program image.
	Init string `toml:"init"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Memory: Memory{
			UserBase:    0x1000,
			UserCeiling: 0x4000_0000_0000,
			HeapBottom:  0x4000_0000,
			HeapMax:     4 << 20,
			StackSize:   0x10000,
		},
		LogLevel: "info",
		Init:     "/init",
	}
}

// Load reads the configuration at path, applying defaults for omitted
// fields.
func Load(path string) (*Config, error) {
	c := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the geometry for internal consistency.
func (c *Config) Validate() error {
	m := c.Memory
	if m.UserBase%hostarch.PageSize != 0 || m.UserCeiling%hostarch.PageSize != 0 {
		return fmt.Errorf("user region [%#x, %#x) is not page-aligned", m.UserBase, m.UserCeiling)
	}
	if m.UserBase >= m.UserCeiling {
		return fmt.Errorf("user base %#x is not below the ceiling %#x", m.UserBase, m.UserCeiling)
	}
	if m.HeapBottom%hostarch.PageSize != 0 || m.HeapMax%hostarch.PageSize != 0 {
		return fmt.Errorf("heap window %#x+%#x is not page-aligned", m.HeapBottom, m.HeapMax)
	}
	if m.HeapBottom < m.UserBase || m.HeapBottom+m.HeapMax > m.UserCeiling {
		return fmt.Errorf("heap window %#x+%#x extends outside the user region", m.HeapBottom, m.HeapMax)
	}
	if m.StackSize%hostarch.PageSize != 0 || m.StackSize == 0 {
		return fmt.Errorf("stack size %#x is not a positive multiple of the page size", m.StackSize)
	}
	if c.Init == "" {
		return fmt.Errorf("no initial program configured")
	}
	return nil
}

// Layout converts the memory section into the kernel's geometry type.
func (c *Config) Layout() kernel.MemoryLayout {
	return kernel.MemoryLayout{
		UserBase:    hostarch.Addr(c.Memory.UserBase),
		UserCeiling: hostarch.Addr(c.Memory.UserCeiling),
		HeapBottom:  hostarch.Addr(c.Memory.HeapBottom),
		HeapMax:     c.Memory.HeapMax,
		StackSize:   c.Memory.StackSize,
	}
}
