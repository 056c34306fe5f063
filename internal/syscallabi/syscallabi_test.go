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

package syscallabi

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pintosgo/kernel/internal/addrspace"
	"github.com/pintosgo/kernel/internal/blockdev"
	"github.com/pintosgo/kernel/internal/filesys"
	"github.com/pintosgo/kernel/internal/process"
	"github.com/pintosgo/kernel/internal/vm/frame"
	"github.com/pintosgo/kernel/internal/vm/swap"
)

// buildELF assembles a minimal ELF32/i386 ET_EXEC with one PT_LOAD
// segment at 0x08048000, mirroring internal/process's test fixture.
func buildELF(body []byte) []byte {
	const ehdrSize = 52
	const phdrSize = 32
	const vaddr = uint32(0x08048000)

	var buf []byte
	put16 := func(v uint16) { var b [2]byte; binary.LittleEndian.PutUint16(b[:], v); buf = append(buf, b[:]...) }
	put32 := func(v uint32) { var b [4]byte; binary.LittleEndian.PutUint32(b[:], v); buf = append(buf, b[:]...) }

	buf = append(buf, 0x7f, 'E', 'L', 'F', 1, 1, 1, 0)
	buf = append(buf, make([]byte, 8)...)
	put16(2)
	put16(3)
	put32(1)
	put32(vaddr)
	put32(ehdrSize)
	put32(0)
	put32(0)
	put16(ehdrSize)
	put16(phdrSize)
	put16(1)
	put16(0)
	put16(0)
	put16(0)

	total := uint32(ehdrSize + phdrSize + len(body))
	put32(1)
	put32(0)
	put32(vaddr)
	put32(vaddr)
	put32(total)
	put32(total + frame.PageSize)
	put32(1 | 4)
	put32(0x1000)

	buf = append(buf, body...)
	return buf
}

func newFixture(t *testing.T) (*process.Table, *process.Process) {
	t.Helper()
	dev := blockdev.NewMemDevice(60000)
	fs, err := filesys.Format(dev)
	require.NoError(t, err)

	root, err := fs.Root()
	require.NoError(t, err)
	require.NoError(t, fs.Create(root, root, "prog"))
	f, err := fs.Open(root, root, "prog")
	require.NoError(t, err)
	_, err = f.WriteAt(buildELF([]byte{0x90}), 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, root.Close())

	swapDev := swap.New(blockdev.NewMemDevice(4096))
	tbl := process.NewTable(fs, 8, swapDev, 64*1024)
	p, _, err := tbl.Exec(nil, "prog")
	require.NoError(t, err)

	// Register a handful of demand-zero scratch pages above the program's
	// own loaded segment: this stands in for the syscall trampoline's
	// kernel-side arg buffer, not something a page fault would
	// ordinarily map for a fixture this small.
	for i := 0; i < 4; i++ {
		p.Supt.InstallZero(addrspace.PageOf(scratchAddr)+frame.UserPage(i*frame.PageSize), true)
	}

	return tbl, p
}

// scratchAddr is an arbitrary page-aligned address below the stack
// region that Exec never touches, safe to scribble test buffers into.
const scratchAddr = uint32(0x08050000)

func writeCString(t *testing.T, p *process.Process, addr uint32, s string) {
	t.Helper()
	buf := append([]byte(s), 0)
	require.True(t, p.Space.WriteAt(addr, buf))
}

func TestDispatchCreateOpenWriteReadClose(t *testing.T) {
	tbl, p := newFixture(t)
	s := NewServer(tbl)

	writeCString(t, p, scratchAddr, "data.txt")
	ret, kill := s.Dispatch(p, SysCreate, Args{scratchAddr, 0})
	require.False(t, kill)
	require.Equal(t, int32(1), ret)

	ret, kill = s.Dispatch(p, SysOpen, Args{scratchAddr, 0})
	require.False(t, kill)
	require.GreaterOrEqual(t, ret, int32(0))
	fd := ret

	const bufAddr = scratchAddr + 0x1000
	writeCString(t, p, bufAddr, "hello")
	ret, kill = s.Dispatch(p, SysWrite, Args{uint32(fd), bufAddr, 5})
	require.False(t, kill)
	require.Equal(t, int32(5), ret)

	ret, kill = s.Dispatch(p, SysSeek, Args{uint32(fd), 0, 0})
	require.False(t, kill)
	require.Equal(t, int32(0), ret)

	const readAddr = bufAddr + 0x1000
	ret, kill = s.Dispatch(p, SysRead, Args{uint32(fd), readAddr, 5})
	require.False(t, kill)
	require.Equal(t, int32(5), ret)

	got := make([]byte, 5)
	require.True(t, p.Space.ReadAt(readAddr, got))
	require.Equal(t, "hello", string(got))

	ret, kill = s.Dispatch(p, SysClose, Args{uint32(fd), 0, 0})
	require.False(t, kill)
	require.Equal(t, int32(0), ret)
}

func TestDispatchWriteToStdoutInvokesCallback(t *testing.T) {
	tbl, p := newFixture(t)
	var captured []byte
	s := NewServer(tbl)
	s.Stdout = func(b []byte) { captured = append(captured, b...) }

	writeCString(t, p, scratchAddr, "hi!")
	ret, kill := s.Dispatch(p, SysWrite, Args{1, scratchAddr, 3})
	require.False(t, kill)
	require.Equal(t, int32(3), ret)
	require.Equal(t, "hi!", string(captured))
}

func TestDispatchInvalidPointerKillsProcess(t *testing.T) {
	tbl, p := newFixture(t)
	s := NewServer(tbl)

	_, kill := s.Dispatch(p, SysOpen, Args{0xFFFFFFF0, 0, 0})
	require.True(t, kill)
}

func TestDispatchUnknownSyscallKillsProcess(t *testing.T) {
	tbl, p := newFixture(t)
	s := NewServer(tbl)

	_, kill := s.Dispatch(p, 999, Args{})
	require.True(t, kill)
}

func TestDispatchExecWaitExit(t *testing.T) {
	tbl, parent := newFixture(t)
	s := NewServer(tbl)

	writeCString(t, parent, scratchAddr, "prog")
	ret, kill := s.Dispatch(parent, SysExec, Args{scratchAddr, 0, 0})
	require.False(t, kill)
	childPid := ret
	require.Greater(t, childPid, int32(0))

	child, ok := tbl.Lookup(process.Pid(childPid))
	require.True(t, ok)
	go func() {
		s.Dispatch(child, SysExit, Args{42, 0, 0})
	}()

	ret, kill = s.Dispatch(parent, SysWait, Args{uint32(childPid), 0, 0})
	require.False(t, kill)
	require.Equal(t, int32(42), ret)
}

func TestDispatchHaltInvokesCallback(t *testing.T) {
	tbl, p := newFixture(t)
	s := NewServer(tbl)
	halted := false
	s.Halt = func() { halted = true }

	ret, kill := s.Dispatch(p, SysHalt, Args{})
	require.False(t, kill)
	require.Equal(t, int32(0), ret)
	require.True(t, halted)
}

func TestDispatchMkdirChdirReaddir(t *testing.T) {
	tbl, p := newFixture(t)
	s := NewServer(tbl)

	writeCString(t, p, scratchAddr, "sub")
	ret, kill := s.Dispatch(p, SysMkdir, Args{scratchAddr, 0, 0})
	require.False(t, kill)
	require.Equal(t, int32(1), ret)

	ret, kill = s.Dispatch(p, SysChdir, Args{scratchAddr, 0, 0})
	require.False(t, kill)
	require.Equal(t, int32(1), ret)

	const dotAddr = scratchAddr + 0x1000
	writeCString(t, p, dotAddr, ".")
	ret, kill = s.Dispatch(p, SysOpen, Args{dotAddr, 0, 0})
	require.False(t, kill)
	fd := ret

	ret, kill = s.Dispatch(p, SysIsdir, Args{uint32(fd), 0, 0})
	require.False(t, kill)
	require.Equal(t, int32(1), ret)
}
