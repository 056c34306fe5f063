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

package addrspace

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pintosgo/kernel/internal/vm/frame"
)

func TestInstallAndReadWrite(t *testing.T) {
	s := New()
	fr := &frame.Frame{}
	page := PageOf(0x08040000)
	s.Install(page, fr, true)

	require.True(t, s.WriteAt(0x08040004, []byte{1, 2, 3}))
	out := make([]byte, 3)
	require.True(t, s.ReadAt(0x08040004, out))
	require.Equal(t, []byte{1, 2, 3}, out)

	require.True(t, s.Accessed(page))
	require.True(t, s.Dirty(page))
}

func TestProbeUnmappedWithoutFaultHandlerFails(t *testing.T) {
	s := New()
	require.False(t, s.ProbeByte(0x08040000))
}

func TestProbeFaultsInLazily(t *testing.T) {
	s := New()
	faulted := []frame.UserPage{}
	s.Fault = func(page frame.UserPage) bool {
		faulted = append(faulted, page)
		s.Install(page, &frame.Frame{}, true)
		return true
	}

	require.True(t, s.ProbeByte(0x08040000))
	require.Len(t, faulted, 1)
}

func TestProbeNullAndKernelAddressesFail(t *testing.T) {
	s := New()
	require.False(t, s.ProbeByte(0))
	require.False(t, s.ProbeByte(uint32(PhysBase)))
}

func TestWriteToReadOnlyMappingFails(t *testing.T) {
	s := New()
	page := PageOf(0x08040000)
	s.Install(page, &frame.Frame{}, false)
	require.False(t, s.WriteAt(0x08040000, []byte{1}))
}

func TestProbeBufferChecksBothEndpoints(t *testing.T) {
	s := New()
	s.Install(PageOf(0x08040000), &frame.Frame{}, true)
	// Second page of the buffer is never installed and faulting is
	// disabled, so the far endpoint check must fail.
	require.False(t, s.ProbeBuffer(0x08040ff0, 32, false))
}

func TestProbeCStringStopsAtNUL(t *testing.T) {
	s := New()
	fr := &frame.Frame{}
	page := PageOf(0x08040000)
	s.Install(page, fr, true)
	copy(fr.Data[0:], []byte("hi\x00"))

	n, ok := s.ProbeCString(0x08040000, 128)
	require.True(t, ok)
	require.Equal(t, 2, n)
}

func TestClearMappingRemovesEntry(t *testing.T) {
	s := New()
	page := PageOf(0x08040000)
	s.Install(page, &frame.Frame{}, true)
	require.True(t, s.Present(page))
	s.ClearMapping(page)
	require.False(t, s.Present(page))
}
