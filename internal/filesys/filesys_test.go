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

package filesys

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pintosgo/kernel/internal/blockdev"
)

func TestCreateWriteCloseReopenFilesize(t *testing.T) {
	dev := blockdev.NewMemDevice(20000)
	fs, err := Format(dev)
	require.NoError(t, err)

	root, err := fs.Root()
	require.NoError(t, err)
	defer root.Close()

	require.NoError(t, fs.Create(root, root, "a"))

	f, err := fs.Open(root, root, "a")
	require.NoError(t, err)

	data := bytes.Repeat([]byte{'X'}, 600)
	n, err := f.WriteAt(data, 0)
	require.NoError(t, err)
	require.Equal(t, 600, n)
	require.NoError(t, f.Close())

	f2, err := fs.Open(root, root, "a")
	require.NoError(t, err)
	defer f2.Close()
	require.Equal(t, int64(600), f2.Length())
}

func TestRemoveIsDeferredUntilLastClose(t *testing.T) {
	dev := blockdev.NewMemDevice(20000)
	fs, err := Format(dev)
	require.NoError(t, err)

	root, err := fs.Root()
	require.NoError(t, err)
	defer root.Close()

	require.NoError(t, fs.Create(root, root, "b"))
	f, err := fs.Open(root, root, "b")
	require.NoError(t, err)

	require.NoError(t, fs.Remove(root, root, "b"))

	// Still readable/writable through the already-open handle.
	_, err = f.WriteAt([]byte("ok"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = fs.Open(root, root, "b")
	require.Error(t, err)
}

func TestMkdirAndNestedCreate(t *testing.T) {
	dev := blockdev.NewMemDevice(20000)
	fs, err := Format(dev)
	require.NoError(t, err)

	root, err := fs.Root()
	require.NoError(t, err)
	defer root.Close()

	require.NoError(t, fs.Mkdir(root, root, "sub"))
	require.NoError(t, fs.Create(root, root, "sub/leaf"))

	f, err := fs.Open(root, root, "/sub/leaf")
	require.NoError(t, err)
	defer f.Close()
	require.False(t, f.IsDir())
}

func TestLargeFileRoundTrip(t *testing.T) {
	// Sized generously so a write spanning the double-indirect region
	// has room to allocate (direct + single-indirect + enough
	// double-indirect structure).
	dev := blockdev.NewMemDevice(40000)
	fs, err := Format(dev)
	require.NoError(t, err)

	root, err := fs.Root()
	require.NoError(t, err)
	defer root.Close()

	require.NoError(t, fs.Create(root, root, "big"))
	f, err := fs.Open(root, root, "big")
	require.NoError(t, err)
	defer f.Close()

	const size = 200 * 1024
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	n, err := f.WriteAt(data, 0)
	require.NoError(t, err)
	require.Equal(t, size, n)
	require.Equal(t, int64(size), f.Length())

	for _, off := range []int64{0, 63_000, 100_000, size - 1} {
		out := make([]byte, 1)
		_, err := f.ReadAt(out, off)
		require.True(t, err == nil || err == io.EOF)
		require.Equal(t, data[off], out[0], "offset %d", off)
	}
}
