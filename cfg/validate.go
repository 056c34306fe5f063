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

import "fmt"

// ValidateConfig returns a non-nil error if config is invalid.
func ValidateConfig(config *Config) error {
	if config.DiskPath == "" {
		return fmt.Errorf("disk-path must not be empty")
	}
	if config.SwapPath == "" {
		return fmt.Errorf("swap-path must not be empty")
	}
	if config.Disk <= 0 {
		return fmt.Errorf("disk-size must be positive")
	}
	if config.Swap <= 0 {
		return fmt.Errorf("swap-size must be positive")
	}
	if config.VM.Frames <= 0 {
		return fmt.Errorf("vm.frames must be positive")
	}
	if config.VM.MaxStack <= 0 {
		return fmt.Errorf("vm.max-stack must be positive")
	}
	return nil
}
