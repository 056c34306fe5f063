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

// Package cache implements the spec's write-back buffer cache (§4.A): a
// fixed 64-entry array in front of a raw block device, replaced with the
// clock / second-chance algorithm, serialized by a single mutex.
package cache

import (
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/pintosgo/kernel/internal/blockdev"
	"github.com/pintosgo/kernel/internal/klog"
)

// NumEntries is the fixed capacity of the cache, per spec §4.A.
const NumEntries = 64

type entry struct {
	valid        bool
	dirty        bool
	recentlyUsed bool
	sector       uint32
	data         [blockdev.SectorSize]byte
}

// Cache is a sector-granular write-back cache in front of a single block
// device. Every Read/Write acquires mu, does its work, and releases it:
// the cache is a serialization point for the device it fronts, by design
// (spec §5: "the buffer cache globally serializes sector I/O").
type Cache struct {
	dev blockdev.Device
	log *log.Logger

	mu      sync.Mutex
	entries [NumEntries]entry
	cursor  int // clock hand, persists between calls

	// sf collapses concurrent misses on the same sector into one fetch,
	// so N readers racing on a cold sector perform one eviction+read
	// instead of N.
	sf singleflight.Group
}

// New wraps dev with a buffer cache.
func New(dev blockdev.Device) *Cache {
	return &Cache{dev: dev, log: klog.New("cache")}
}

// Read copies the contents of sector into dst, which must be
// blockdev.SectorSize bytes.
func (c *Cache) Read(sector uint32, dst []byte) {
	if len(dst) != blockdev.SectorSize {
		panic("cache: read buffer is not one sector wide")
	}

	v, _, _ := c.sf.Do(fmt.Sprintf("%d", sector), func() (interface{}, error) {
		buf := make([]byte, blockdev.SectorSize)
		c.mu.Lock()
		idx := c.lookupLocked(sector)
		if idx < 0 {
			idx = c.fetchLocked(sector)
		}
		c.entries[idx].recentlyUsed = true
		copy(buf, c.entries[idx].data[:])
		c.mu.Unlock()
		return buf, nil
	})
	copy(dst, v.([]byte))
}

// Write overwrites the contents of sector with src, which must be
// blockdev.SectorSize bytes. The sector is brought into the cache first
// (a write-miss still reads the sector, per spec §4.A) so that a partial
// overwrite performed one layer up, by the inode read-modify-write path,
// never corrupts the untouched bytes.
func (c *Cache) Write(sector uint32, src []byte) {
	if len(src) != blockdev.SectorSize {
		panic("cache: write buffer is not one sector wide")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.lookupLocked(sector)
	if idx < 0 {
		idx = c.fetchLocked(sector)
	}
	c.entries[idx].dirty = true
	c.entries[idx].recentlyUsed = true
	copy(c.entries[idx].data[:], src)
}

// Shutdown flushes every valid dirty entry to the device.
func (c *Cache) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.entries {
		c.flushLocked(i)
	}
}

func (c *Cache) lookupLocked(sector uint32) int {
	for i := range c.entries {
		if c.entries[i].valid && c.entries[i].sector == sector {
			return i
		}
	}
	return -1
}

// fetchLocked selects a victim via clock replacement, flushes it if
// dirty, loads the requested sector into it, and returns its index. mu
// must be held.
func (c *Cache) fetchLocked(sector uint32) int {
	victim := c.selectVictimLocked()
	c.flushLocked(victim)

	e := &c.entries[victim]
	c.dev.ReadSector(sector, e.data[:])
	e.sector = sector
	e.valid = true
	e.dirty = false
	e.recentlyUsed = false
	c.log.Printf("fetch sector=%d into slot=%d", sector, victim)
	return victim
}

// selectVictimLocked implements the clock / second-chance algorithm of
// spec §4.A: advance the cursor, skipping over (and clearing the
// recently-used bit of) entries whose bit is set, until an invalid slot
// or a clear-bit valid slot is found.
func (c *Cache) selectVictimLocked() int {
	for i := 0; i < 2*NumEntries; i++ {
		idx := c.cursor
		c.cursor = (c.cursor + 1) % NumEntries

		e := &c.entries[idx]
		if !e.valid || !e.recentlyUsed {
			return idx
		}
		e.recentlyUsed = false
	}
	// Every slot's bit is cleared on pass-over, so a full second sweep
	// always finds a clear bit; this is unreachable.
	panic("cache: clock algorithm found no victim")
}

func (c *Cache) flushLocked(idx int) {
	e := &c.entries[idx]
	if e.valid && e.dirty {
		c.dev.WriteSector(e.sector, e.data[:])
		e.dirty = false
		c.log.Printf("flush sector=%d from slot=%d", e.sector, idx)
	}
}
