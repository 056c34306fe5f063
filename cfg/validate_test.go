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

package cfg

import "testing"

func TestValidateConfigRejectsMissingPaths(t *testing.T) {
	c := &Config{Disk: 1, Swap: 1, VM: VMConfig{Frames: 1, MaxStack: 1}}
	if err := ValidateConfig(c); err == nil {
		t.Fatal("expected error for empty disk-path")
	}
	c.DiskPath = "disk.img"
	if err := ValidateConfig(c); err == nil {
		t.Fatal("expected error for empty swap-path")
	}
}

func TestValidateConfigRejectsNonPositiveSizes(t *testing.T) {
	base := Config{DiskPath: "d", SwapPath: "s", Disk: 1, Swap: 1, VM: VMConfig{Frames: 1, MaxStack: 1}}

	c := base
	c.Disk = 0
	if err := ValidateConfig(&c); err == nil {
		t.Fatal("expected error for zero disk-size")
	}

	c = base
	c.VM.Frames = 0
	if err := ValidateConfig(&c); err == nil {
		t.Fatal("expected error for zero vm.frames")
	}
}

func TestValidateConfigAcceptsWellFormedConfig(t *testing.T) {
	c := &Config{
		DiskPath: "disk.img",
		SwapPath: "swap.img",
		Disk:     8 << 20,
		Swap:     4 << 20,
		VM:       VMConfig{Frames: 64, MaxStack: 1 << 20},
	}
	if err := ValidateConfig(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
