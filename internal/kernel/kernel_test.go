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

package kernel

import (
	"encoding/binary"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pintosgo/kernel/cfg"
	"github.com/pintosgo/kernel/internal/process"
	"github.com/pintosgo/kernel/internal/syscallabi"
	"github.com/pintosgo/kernel/internal/vm/frame"
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

func testConfig(t *testing.T) cfg.Config {
	t.Helper()
	dir := t.TempDir()
	return cfg.Config{
		DiskPath: filepath.Join(dir, "disk.img"),
		SwapPath: filepath.Join(dir, "swap.img"),
		Disk:     1 << 20,
		Swap:     256 * 512,
		VM:       cfg.VMConfig{Frames: 8, MaxStack: 64 * 1024},
	}
}

func seedExecutable(t *testing.T, k *Kernel, name string, data []byte) {
	t.Helper()
	root, err := k.Filesystem().Root()
	require.NoError(t, err)
	defer root.Close()

	require.NoError(t, k.Filesystem().Create(root, root, name))
	f, err := k.Filesystem().Open(root, root, name)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteAt(data, 0)
	require.NoError(t, err)
}

func TestBootFormatsFreshDiskImages(t *testing.T) {
	c := testConfig(t)
	k, err := Boot(c)
	require.NoError(t, err)
	defer k.Shutdown()

	root, err := k.Filesystem().Root()
	require.NoError(t, err)
	require.NoError(t, root.Close())
}

func TestBootMountsAlreadyFormattedDiskImage(t *testing.T) {
	c := testConfig(t)
	k1, err := Boot(c)
	require.NoError(t, err)
	seedExecutable(t, k1, "prog", buildELF([]byte{0x90}))
	k1.Shutdown()

	k2, err := Boot(c)
	require.NoError(t, err)
	defer k2.Shutdown()

	root, err := k2.Filesystem().Root()
	require.NoError(t, err)
	defer root.Close()
	f, err := k2.Filesystem().Open(root, root, "prog")
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestBootRejectsInvalidConfig(t *testing.T) {
	c := testConfig(t)
	c.VM.Frames = 0
	_, err := Boot(c)
	require.Error(t, err)
}

// TestRunWaitsForExitSyscall drives a freshly booted kernel's first
// process through its exit by dispatching SYS_EXIT directly, standing
// in for the instruction-execution loop a real CPU would provide.
func TestRunWaitsForExitSyscall(t *testing.T) {
	c := testConfig(t)
	k, err := Boot(c)
	require.NoError(t, err)
	defer k.Shutdown()

	seedExecutable(t, k, "prog", buildELF([]byte{0x90}))

	go func() {
		for {
			p, ok := k.Processes().Lookup(process.Pid(1))
			if ok {
				k.Syscalls().Dispatch(p, syscallabi.SysExit, syscallabi.Args{7, 0, 0})
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	code, err := k.Run("prog")
	require.NoError(t, err)
	require.Equal(t, 7, code)
}
