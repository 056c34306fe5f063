// Copyright 2025 Google LLC
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

// Package klog provides the kernel's subsystem loggers. Each subsystem gets
// its own prefixed *log.Logger, silent by default, matching the pattern
// gcsproxy used for its debug logger: write to io.Discard unless a debug
// flag turns the subsystem on.
package klog

import (
	"io"
	"log"
	"os"
	"sync"
)

var (
	mu      sync.Mutex
	enabled = map[string]bool{}
)

// Enable turns on logging for the named subsystem ("cache", "frame",
// "fs", "process", "syscall"). Intended to be called once at boot from the
// resolved cfg.Config.
func Enable(subsystem string) {
	mu.Lock()
	defer mu.Unlock()
	enabled[subsystem] = true
}

// New returns a logger for subsystem, writing to stderr with the
// subsystem name as prefix if Enable(subsystem) has been called, and
// discarding output otherwise.
func New(subsystem string) *log.Logger {
	mu.Lock()
	on := enabled[subsystem]
	mu.Unlock()

	var w io.Writer = io.Discard
	if on {
		w = os.Stderr
	}
	return log.New(w, subsystem+": ", log.LstdFlags)
}
