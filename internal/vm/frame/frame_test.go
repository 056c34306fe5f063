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

package frame

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pintosgo/kernel/internal/blockdev"
	"github.com/pintosgo/kernel/internal/vm/swap"
)

// fakeOwner is a minimal Owner for exercising the frame pool without
// pulling in addrspace or supt.
type fakeOwner struct {
	accessed map[UserPage]bool
	dirty    map[UserPage]bool
	evicted  map[UserPage]int
	unmapped map[UserPage]bool
}

func newFakeOwner() *fakeOwner {
	return &fakeOwner{
		accessed: map[UserPage]bool{},
		dirty:    map[UserPage]bool{},
		evicted:  map[UserPage]int{},
		unmapped: map[UserPage]bool{},
	}
}

func (o *fakeOwner) Accessed(p UserPage) bool    { return o.accessed[p] }
func (o *fakeOwner) ClearAccessed(p UserPage)    { o.accessed[p] = false }
func (o *fakeOwner) Dirty(p UserPage) bool       { return o.dirty[p] }
func (o *fakeOwner) ClearMapping(p UserPage)     { o.unmapped[p] = true }
func (o *fakeOwner) Evicted(p UserPage, slot int, dirty bool) {
	o.evicted[p] = slot
}

func newTestTable(t *testing.T, n int) *Table {
	t.Helper()
	dev := blockdev.NewMemDevice(uint32(n+4) * 8)
	sd := swap.New(dev)
	return New(n, sd)
}

func TestAllocateFillsPoolBeforeEvicting(t *testing.T) {
	tbl := newTestTable(t, 2)
	owner := newFakeOwner()

	f1, err := tbl.Allocate(owner, UserPage(0x1000))
	require.NoError(t, err)
	tbl.Unpin(f1)
	f2, err := tbl.Allocate(owner, UserPage(0x2000))
	require.NoError(t, err)
	tbl.Unpin(f2)

	require.NotSame(t, f1, f2)
	require.Empty(t, owner.evicted)
}

func TestEvictionPicksUnaccessedFrame(t *testing.T) {
	tbl := newTestTable(t, 2)
	owner := newFakeOwner()

	f1, err := tbl.Allocate(owner, UserPage(0x1000))
	require.NoError(t, err)
	tbl.Unpin(f1)
	f2, err := tbl.Allocate(owner, UserPage(0x2000))
	require.NoError(t, err)
	tbl.Unpin(f2)

	// Mark page 0x1000 accessed so the clock sweep skips it first pass
	// and evicts 0x2000 instead.
	owner.accessed[UserPage(0x1000)] = true

	_, err = tbl.Allocate(owner, UserPage(0x3000))
	require.NoError(t, err)

	require.Contains(t, owner.evicted, UserPage(0x2000))
	require.True(t, owner.unmapped[UserPage(0x2000)])
}

func TestPinnedFrameNeverEvicted(t *testing.T) {
	tbl := newTestTable(t, 1)
	owner := newFakeOwner()

	f1, err := tbl.Allocate(owner, UserPage(0x1000))
	require.NoError(t, err)
	_ = f1 // stays pinned

	require.Panics(t, func() {
		tbl.Allocate(owner, UserPage(0x2000))
	})
}

func TestFreeReturnsFrameToPoolWithoutEviction(t *testing.T) {
	tbl := newTestTable(t, 1)
	owner := newFakeOwner()

	f1, err := tbl.Allocate(owner, UserPage(0x1000))
	require.NoError(t, err)
	tbl.Free(f1)

	f2, err := tbl.Allocate(owner, UserPage(0x2000))
	require.NoError(t, err)
	require.Same(t, f1, f2)
	require.Empty(t, owner.evicted)
}
