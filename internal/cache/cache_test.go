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

package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pintosgo/kernel/internal/blockdev"
)

func TestReadAfterWrite(t *testing.T) {
	dev := blockdev.NewMemDevice(8)
	c := New(dev)

	buf := make([]byte, blockdev.SectorSize)
	buf[0] = 0x42
	c.Write(3, buf)

	out := make([]byte, blockdev.SectorSize)
	c.Read(3, out)
	require.Equal(t, buf, out)
}

func TestConcurrentWritesLeaveOneWrittenValue(t *testing.T) {
	dev := blockdev.NewMemDevice(8)
	c := New(dev)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(v byte) {
			defer wg.Done()
			buf := make([]byte, blockdev.SectorSize)
			buf[0] = v
			c.Write(0, buf)
		}(byte(i + 1))
	}
	wg.Wait()

	out := make([]byte, blockdev.SectorSize)
	c.Read(0, out)
	require.NotEqual(t, byte(0), out[0])
}

func TestCapacityEvictsAndFlushesDirty(t *testing.T) {
	dev := blockdev.NewMemDevice(NumEntries + 1)
	c := New(dev)

	buf := make([]byte, blockdev.SectorSize)
	for i := uint32(0); i < NumEntries; i++ {
		buf[0] = byte(i) + 1
		c.Write(i, buf)
	}
	// One more distinct miss must evict exactly one dirty entry, which
	// should be flushed to the underlying device.
	buf[0] = 0xFF
	c.Write(NumEntries, buf)

	// At least one of the original NumEntries sectors must have reached
	// the device, proving the evicted dirty entry was written back.
	flushed := false
	raw := make([]byte, blockdev.SectorSize)
	for i := uint32(0); i < NumEntries; i++ {
		dev.ReadSector(i, raw)
		if raw[0] == byte(i)+1 {
			flushed = true
			break
		}
	}
	require.True(t, flushed)
}

func TestShutdownFlushesDirtyEntries(t *testing.T) {
	dev := blockdev.NewMemDevice(4)
	c := New(dev)

	buf := make([]byte, blockdev.SectorSize)
	buf[0] = 7
	c.Write(1, buf)
	c.Shutdown()

	raw := make([]byte, blockdev.SectorSize)
	dev.ReadSector(1, raw)
	require.Equal(t, byte(7), raw[0])
}
