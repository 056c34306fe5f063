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

// Package syscallabi is the kernel/user boundary of spec §4.D and §6: it
// decodes a syscall number and its up-to-three word-sized arguments,
// validates every user pointer among them against the calling process's
// address space, and dispatches to internal/process. This is the Go
// stand-in for int 0x30's assembly trampoline and syscall.c's switch
// statement — the userspace ABI without a real CPU trap.
//
// Grounded on fuseutil.FileSystem's shape: one method per operation,
// reached through a single decode/dispatch/reply entry point — the same
// loop jacobsa-fuse's mount daemon runs for every incoming FUSE request.
package syscallabi

import (
	"log"

	"github.com/pintosgo/kernel/internal/klog"
	"github.com/pintosgo/kernel/internal/process"
)

// Syscall numbers, matching spec §6's table exactly.
const (
	SysHalt = iota
	SysExit
	SysExec
	SysWait
	SysCreate
	SysRemove
	SysOpen
	SysFilesize
	SysRead
	SysWrite
	SysSeek
	SysTell
	SysClose
	SysMmap
	SysMunmap
	SysChdir
	SysMkdir
	SysReaddir
	SysIsdir
	SysInumber
)

// Reserved file descriptors, handled by the syscall layer rather than
// forwarded to internal/process.
const (
	fdStdin  = 0
	fdStdout = 1
	fdStderr = 2
)

// maxPathLen bounds how far ProbeCString will scan for a NUL before
// giving up; generous relative to spec §4.B's 14-byte name components
// to allow a handful of path separators.
const maxPathLen = 256

// readdirBufLen is the buffer size the READDIR syscall writes a name
// into, matching spec §4.B's NAME_MAX (14) plus a NUL terminator.
const readdirBufLen = 15

// Server dispatches syscalls against a process.Table.
type Server struct {
	procs *process.Table

	// Halt, if non-nil, is invoked for SYS_HALT.
	Halt func()

	// Stdout receives bytes written to fd 1 and 2, standing in for the
	// console a real kernel would write to.
	Stdout func(p []byte)

	log *log.Logger
}

// NewServer returns a dispatcher over procs.
func NewServer(procs *process.Table) *Server {
	return &Server{procs: procs, log: klog.New("syscall")}
}

// Args holds up to three word-sized syscall arguments, decoded from the
// caller's stack by the trampoline before Dispatch runs.
type Args [3]uint32

// Dispatch runs syscall num with args on behalf of p, returning the
// value to place in EAX. kill reports that p passed an invalid pointer
// or argument, or an unknown syscall number, and must be terminated with
// exit code -1
// (spec §4.A: "A user process that accesses memory outside its own
// segments, or memory it has not mapped, is terminated"); the caller is
// responsible for actually calling p.Exit(-1).
func (s *Server) Dispatch(p *process.Process, num int, args Args) (ret int32, kill bool) {
	switch num {
	case SysHalt:
		if s.Halt != nil {
			s.Halt()
		}
		return 0, false

	case SysExit:
		code := int32(args[0])
		p.Exit(int(code))
		return code, false

	case SysExec:
		cmdline, ok := s.readCString(p, args[0])
		if !ok {
			return -1, true
		}
		child, _, err := s.procs.Exec(p, cmdline)
		if err != nil {
			s.log.Printf("exec %q: %v", cmdline, err)
			return -1, false
		}
		return int32(child.Pid()), false

	case SysWait:
		code, err := p.Wait(process.Pid(int32(args[0])))
		if err != nil {
			return -1, false
		}
		return int32(code), false

	case SysCreate:
		name, ok := s.readCString(p, args[0])
		if !ok {
			return 0, true
		}
		if err := s.procs.Create(p, name, int64(int32(args[1]))); err != nil {
			return 0, false
		}
		return 1, false

	case SysRemove:
		name, ok := s.readCString(p, args[0])
		if !ok {
			return 0, true
		}
		if err := s.procs.Remove(p, name); err != nil {
			return 0, false
		}
		return 1, false

	case SysOpen:
		name, ok := s.readCString(p, args[0])
		if !ok {
			return -1, true
		}
		fd, err := s.procs.Open(p, name)
		if err != nil {
			return -1, false
		}
		return int32(fd), false

	case SysFilesize:
		size, err := s.procs.Filesize(p, int(int32(args[0])))
		if err != nil {
			return -1, false
		}
		return int32(size), false

	case SysRead:
		return s.sysRead(p, int(int32(args[0])), args[1], int(int32(args[2])))

	case SysWrite:
		return s.sysWrite(p, int(int32(args[0])), args[1], int(int32(args[2])))

	case SysSeek:
		if err := s.procs.Seek(p, int(int32(args[0])), int64(int32(args[1]))); err != nil {
			return -1, false
		}
		return 0, false

	case SysTell:
		pos, err := s.procs.Tell(p, int(int32(args[0])))
		if err != nil {
			return -1, false
		}
		return int32(pos), false

	case SysClose:
		s.procs.Close(p, int(int32(args[0])))
		return 0, false

	case SysMmap:
		id, err := s.procs.Mmap(p, int(int32(args[0])), args[1])
		if err != nil {
			return -1, false
		}
		return int32(id), false

	case SysMunmap:
		s.procs.Munmap(p, int(int32(args[0])))
		return 0, false

	case SysChdir:
		name, ok := s.readCString(p, args[0])
		if !ok {
			return 0, true
		}
		if err := s.procs.Chdir(p, name); err != nil {
			return 0, false
		}
		return 1, false

	case SysMkdir:
		name, ok := s.readCString(p, args[0])
		if !ok {
			return 0, true
		}
		if err := s.procs.Mkdir(p, name); err != nil {
			return 0, false
		}
		return 1, false

	case SysReaddir:
		return s.sysReaddir(p, int(int32(args[0])), args[1])

	case SysIsdir:
		isDir, err := s.procs.Isdir(p, int(int32(args[0])))
		if err != nil {
			return 0, false
		}
		if isDir {
			return 1, false
		}
		return 0, false

	case SysInumber:
		n, err := s.procs.Inumber(p, int(int32(args[0])))
		if err != nil {
			return -1, false
		}
		return int32(n), false

	default:
		s.log.Printf("pid %d: unknown syscall number %d", p.Pid(), num)
		return -1, true
	}
}

func (s *Server) sysRead(p *process.Process, fd int, bufAddr uint32, size int) (int32, bool) {
	if fd == fdStdout || fd == fdStderr {
		return -1, false
	}
	if size < 0 {
		return -1, true
	}
	if !p.Space.ProbeBuffer(bufAddr, size, true) {
		return -1, true
	}
	if fd == fdStdin {
		return 0, false // no console input source in this simulation
	}

	buf := make([]byte, size)
	n, err := s.procs.Read(p, fd, buf)
	if err != nil {
		return -1, false
	}
	p.Space.WriteAt(bufAddr, buf[:n])
	return int32(n), false
}

func (s *Server) sysWrite(p *process.Process, fd int, bufAddr uint32, size int) (int32, bool) {
	if fd == fdStdin {
		return -1, false
	}
	if size < 0 {
		return -1, true
	}
	if !p.Space.ProbeBuffer(bufAddr, size, false) {
		return -1, true
	}

	buf := make([]byte, size)
	if !p.Space.ReadAt(bufAddr, buf) {
		return -1, true
	}

	if fd == fdStdout || fd == fdStderr {
		if s.Stdout != nil {
			s.Stdout(buf)
		}
		return int32(size), false
	}

	n, err := s.procs.Write(p, fd, buf)
	if err != nil {
		return -1, false
	}
	return int32(n), false
}

func (s *Server) sysReaddir(p *process.Process, fd int, bufAddr uint32) (int32, bool) {
	if !p.Space.ProbeBuffer(bufAddr, readdirBufLen, true) {
		return -1, true
	}
	name, ok := s.procs.Readdir(p, fd)
	if !ok {
		return 0, false
	}
	if len(name)+1 > readdirBufLen {
		name = name[:readdirBufLen-1]
	}
	out := make([]byte, len(name)+1)
	copy(out, name)
	p.Space.WriteAt(bufAddr, out)
	return 1, false
}

// readCString validates and copies a NUL-terminated string out of p's
// address space at addr.
func (s *Server) readCString(p *process.Process, addr uint32) (string, bool) {
	n, ok := p.Space.ProbeCString(addr, maxPathLen)
	if !ok {
		return "", false
	}
	buf := make([]byte, n)
	p.Space.ReadAt(addr, buf)
	return string(buf), true
}
