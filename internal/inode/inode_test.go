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

package inode

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pintosgo/kernel/internal/blockdev"
	"github.com/pintosgo/kernel/internal/cache"
)

const testTotalSectors = 20000

func newTestFS(t *testing.T) (*cache.Cache, *FreeMap, *Table) {
	t.Helper()
	dev := blockdev.NewMemDevice(testTotalSectors)
	c := cache.New(dev)
	fm, err := FormatFreeMap(c, testTotalSectors)
	require.NoError(t, err)
	return c, fm, NewTable(c, fm)
}

func TestFormatReservesWellKnownSectors(t *testing.T) {
	c, _, tbl := newTestFS(t)

	root, err := tbl.Open(RootDirSector)
	require.NoError(t, err)
	require.True(t, root.IsDir())
	require.Equal(t, int64(0), root.Length())
	require.NoError(t, root.Close())

	buf := make([]byte, blockdev.SectorSize)
	c.Read(FreeMapSector, buf)
	var disk OnDisk
	require.NoError(t, disk.Decode(buf))
	require.Equal(t, uint32(0), disk.IsDir)
}

func TestCreateReadWriteAtSmallFile(t *testing.T) {
	_, _, tbl := newTestFS(t)

	const sector = 10
	require.NoError(t, tbl.Create(sector, 0, false))

	ino, err := tbl.Open(sector)
	require.NoError(t, err)
	defer ino.Close()

	data := bytes.Repeat([]byte{'X'}, 600)
	n, err := ino.WriteAt(data, 0)
	require.NoError(t, err)
	require.Equal(t, 600, n)
	require.Equal(t, int64(600), ino.Length())

	out := make([]byte, 600)
	n, err = ino.ReadAt(out, 0)
	require.True(t, err == nil || err == io.EOF)
	require.Equal(t, 600, n)
	require.Equal(t, data, out)
}

func TestGrowthAcrossIndirectAndDoubleIndirect(t *testing.T) {
	_, _, tbl := newTestFS(t)

	const sector = 11
	require.NoError(t, tbl.Create(sector, 0, false))
	ino, err := tbl.Open(sector)
	require.NoError(t, err)
	defer ino.Close()

	offsets := []int64{0, 63_000, 130_000}
	for _, off := range offsets {
		payload := bytes.Repeat([]byte{byte(off % 251)}, 37)
		_, err := ino.WriteAt(payload, off)
		require.NoError(t, err, "offset %d", off)
	}

	for _, off := range offsets {
		want := bytes.Repeat([]byte{byte(off % 251)}, 37)
		got := make([]byte, 37)
		_, err := ino.ReadAt(got, off)
		require.True(t, err == nil || err == io.EOF)
		require.Equal(t, want, got, "offset %d", off)
	}
}

func TestIndexToSectorNoCollisions(t *testing.T) {
	_, fm, tbl := newTestFS(t)

	const sector = 12
	const length = 140 * blockdev.SectorSize // spans direct + single-indirect
	require.NoError(t, tbl.Create(sector, length, false))
	ino, err := tbl.Open(sector)
	require.NoError(t, err)
	defer ino.Close()

	w := newWalker(ino.cache, fm)
	seen := map[uint32]bool{}
	n := numSectorsForLength(length)
	for i := uint32(0); i < n; i++ {
		s, err := w.ensureSector(&ino.disk, i, false)
		require.NoError(t, err)
		require.False(t, seen[s], "sector %d reused for index %d", s, i)
		seen[s] = true
	}
}

func TestDenyWriteRejectsWrites(t *testing.T) {
	_, _, tbl := newTestFS(t)

	const sector = 13
	require.NoError(t, tbl.Create(sector, 100, false))
	ino, err := tbl.Open(sector)
	require.NoError(t, err)
	defer ino.Close()

	ino.DenyWrite()
	n, err := ino.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	ino.AllowWrite()
	n, err = ino.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)
	require.Equal(t, 5, n)
}

func TestDeleteReleasesSectorsOnLastClose(t *testing.T) {
	_, fm, tbl := newTestFS(t)

	const sector = 14
	require.NoError(t, tbl.Create(sector, 5000, false))

	ino1, err := tbl.Open(sector)
	require.NoError(t, err)
	ino2, err := tbl.Open(sector)
	require.NoError(t, err)
	require.Same(t, ino1, ino2)

	freeBefore := countFree(fm)

	ino1.Remove()
	require.NoError(t, ino1.Close())
	// Still one opener left; nothing should be released yet.
	require.Equal(t, freeBefore, countFree(fm))

	require.NoError(t, ino2.Close())
	require.Greater(t, countFree(fm), freeBefore)
}

func countFree(fm *FreeMap) int {
	n := 0
	for i := 0; i < fm.bm.Len(); i++ {
		if fm.bm.Test(i) {
			n++
		}
	}
	return n
}
