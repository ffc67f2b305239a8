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

package log

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"
)

func runtimeGosched() {
	runtime.Gosched()
}

// GoogleEmitter is a wrapper that emits logs in a format compatible with
// package github.com/golang/glog.
type GoogleEmitter struct {
	// Emitter is the underlying emitter.
	Emitter
}

// pid is used for the threadid component of the header.
var pid = os.Getpid()

// Emit emits the message, glog-style.
//
// Log lines have this form:
//
//	Lmmdd hh:mm:ss.uuuuuu threadid file:line] msg...
func (g GoogleEmitter) Emit(depth int, level Level, timestamp time.Time, format string, args ...any) {
	// Log level.
	prefix := byte('?')
	switch level {
	case Warning:
		prefix = byte('W')
	case Info:
		prefix = byte('I')
	case Debug:
		prefix = byte('D')
	}

	// Caller, trimmed to the file name only.
	file, line := "???", 0
	if _, f, l, ok := runtime.Caller(depth + 1); ok {
		if slash := strings.LastIndexByte(f, byte('/')); slash >= 0 {
			f = f[slash+1:]
		}
		file, line = f, l
	}

	_, month, day := timestamp.Date()
	hour, minute, second := timestamp.Clock()
	micros := timestamp.Nanosecond() / 1000

	header := fmt.Sprintf("%c%02d%02d %02d:%02d:%02d.%06d % 7d %s:%d] ",
		prefix, int(month), day, hour, minute, second, micros, pid, file, line)

	g.Emitter.Emit(0, level, timestamp, header+format, args...)
}
