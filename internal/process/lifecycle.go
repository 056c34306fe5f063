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

package process

import (
	"fmt"
	"strings"
	"time"
)

// Exit records code as p's exit status, releases every resource it
// still holds — open file descriptors, memory mappings (written back if
// dirty), its supplemental page table, its executable's deny-write hold,
// and its working directory — and wakes any parent blocked in Wait.
// Children are left running; Pintos never waits for or kills them on
// parent exit, and neither does this kernel (spec §4.D, §9).
func (p *Process) Exit(code int) {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return
	}
	p.exited = true
	p.exitCode = code
	fds := p.fds
	p.fds = nil
	maps := p.mmaps
	p.mmaps = nil
	exe := p.exe
	cwd := p.cwd
	p.mu.Unlock()

	for _, h := range fds {
		h.ino.Close()
	}
	for _, m := range maps {
		p.Supt.Unmap(m.pages)
		m.file.Close()
	}
	p.Supt.Destroy()

	if exe != nil {
		exe.AllowWrite()
		exe.Close()
	}
	if cwd != nil {
		cwd.Close()
	}

	p.table.log.Printf("pid %d: exited with code %d at %s", p.pid, code, p.table.clock.Now().Format(time.RFC3339Nano))
	name := strings.Fields(p.cmdline)[0]
	p.table.console(fmt.Sprintf("%s: exit(%d)\n", name, code))
	close(p.done)
}

// Wait blocks until childPid exits and returns its exit status. It
// returns an error if childPid does not name a direct, not-yet-waited-on
// child of p — the syscall layer turns that error into a -1 return,
// exactly matching spec §4.D's rule that "wait on a pid that is not the
// caller's child, or that has already been waited on" fails this way.
func (p *Process) Wait(childPid Pid) (int, error) {
	p.mu.Lock()
	var child *Process
	p.children.Each(func(c *Process) bool {
		if c.pid == childPid {
			child = c
			return false
		}
		return true
	})
	isChild := child != nil
	already := p.waited[childPid]
	if isChild && !already {
		p.waited[childPid] = true
	}
	p.mu.Unlock()

	if !isChild {
		return -1, fmt.Errorf("process: pid %d is not a child of %d", childPid, p.pid)
	}
	if already {
		return -1, fmt.Errorf("process: pid %d already waited on", childPid)
	}

	<-child.done
	child.mu.Lock()
	code := child.exitCode
	child.mu.Unlock()
	return code, nil
}

// ExitCode returns p's exit status and whether it has exited yet.
func (p *Process) ExitCode() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, p.exited
}

// AwaitExit blocks until p exits and returns its exit status, without
// requiring the caller to be p's parent — used by the kernel to wait on
// the single top-level process it ran directly, which Wait can't do
// since that process has no parent of its own.
func (p *Process) AwaitExit() int {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}
