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

// Package cmd is the kernel's command-line entry point: a single cobra
// command that boots internal/kernel from a cfg.Config resolved from
// flags (and, optionally, a YAML config file), then runs one command
// line to completion and exits with its exit code — "pintos run" rather
// than gcsfuse's long-lived mount daemon.
package cmd

import (
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pintosgo/kernel/cfg"
	"github.com/pintosgo/kernel/internal/kernel"
)

// yamlTagDecoderConfig makes viper.Unmarshal read Config's yaml struct
// tags instead of its default mapstructure tags, matching the way
// Config's fields are tagged throughout cfg/.
func yamlTagDecoderConfig(dc *mapstructure.DecoderConfig) {
	dc.TagName = "yaml"
}

var (
	cfgFile       string
	crashLogPath  string
	bindErr       error
	configFileErr error
	unmarshalErr  error
	Config        cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "pintosgo [flags] -- command [args...]",
	Short: "Boot the kernel and run a single command to completion",
	Long: `pintosgo boots a small teaching-grade kernel over a disk image and
swap image, loads the named executable from the disk image's root
directory, runs it to completion, and exits with its exit status.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}

		k, err := kernel.Boot(Config)
		if err != nil {
			return err
		}
		defer k.Shutdown()

		code, err := k.Run(strings.Join(args, " "))
		if err != nil {
			return err
		}
		os.Exit(code)
		return nil
	},
}

// Execute runs the root command, writing any error to stderr and
// exiting non-zero. A panic anywhere in the boot or run path is caught,
// its stack trace written through a CrashWriter to crashLogPath, and
// then re-raised so the process still exits with a non-zero status.
func Execute() {
	defer func() {
		if r := recover(); r != nil {
			w := &CrashWriter{fileName: crashLogPath}
			fmt.Fprintf(w, "panic: %v\n\n%s", r, debug.Stack())
			panic(r)
		}
	}()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file.")
	rootCmd.PersistentFlags().StringVar(&crashLogPath, "crash-log", "pintosgo-crash.log", "Path to write a stack trace to if pintosgo panics.")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	if cfgFile == "" {
		unmarshalErr = viper.Unmarshal(&Config, yamlTagDecoderConfig)
		return
	}
	viper.SetConfigFile(cfgFile)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("error while reading config file: %w", err)
		return
	}
	unmarshalErr = viper.Unmarshal(&Config, yamlTagDecoderConfig)
}
