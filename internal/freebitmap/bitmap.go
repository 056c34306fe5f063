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

// Package freebitmap implements the bitmap used both by the inode free
// map (persisted to a reserved sector) and by the swap slot allocator
// (kept purely in memory). The spec describes these as two ad hoc
// bitmaps; this is the one type backing both.
package freebitmap

import "sync"

// Bitmap tracks allocation of a fixed number of integer-indexed slots.
// true means free, matching the polarity the spec uses for the swap
// bitmap.
type Bitmap struct {
	mu   sync.Mutex
	free []bool
}

// New returns a Bitmap of n slots, all free.
func New(n int) *Bitmap {
	b := &Bitmap{free: make([]bool, n)}
	for i := range b.free {
		b.free[i] = true
	}
	return b
}

// Len returns the number of slots tracked.
func (b *Bitmap) Len() int {
	return len(b.free)
}

// Allocate finds a contiguous run of n free slots, marks them used, and
// returns the index of the first one. ok is false if no such run exists.
func (b *Bitmap) Allocate(n int) (start int, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	run := 0
	for i := 0; i < len(b.free); i++ {
		if b.free[i] {
			run++
			if run == n {
				first := i - n + 1
				for j := first; j <= i; j++ {
					b.free[j] = false
				}
				return first, true
			}
		} else {
			run = 0
		}
	}
	return 0, false
}

// AllocateOne is shorthand for Allocate(1), used by the swap allocator,
// which the spec fixes at "pick the lowest free slot".
func (b *Bitmap) AllocateOne() (slot int, ok bool) {
	return b.Allocate(1)
}

// Release marks the n slots starting at start as free.
func (b *Bitmap) Release(start, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := start; i < start+n; i++ {
		b.free[i] = true
	}
}

// Test reports whether slot i is free.
func (b *Bitmap) Test(i int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.free[i]
}

// MarshalBinary packs the bitmap one bit per slot, used to persist the
// on-disk free map.
func (b *Bitmap) MarshalBinary() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, (len(b.free)+7)/8)
	for i, f := range b.free {
		if f {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out, nil
}

// UnmarshalBinary restores a bitmap of n slots from packed form.
func (b *Bitmap) UnmarshalBinary(n int, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.free = make([]bool, n)
	for i := 0; i < n; i++ {
		if i/8 < len(data) {
			b.free[i] = data[i/8]&(1<<uint(i%8)) != 0
		}
	}
	return nil
}
