// Copyright 2023 The Cockroach Authors
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
//
// SPDX-License-Identifier: Apache-2.0

// Command metrique-etl runs one invocation of the bitemporal ETL
// engine: either a current-value snapshot pass or a full-history
// replay pass against a single configured source table.
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/metriqueio/metrique-etl/internal/config"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "metrique-etl",
	Short: "Bitemporal ETL engine: snapshot and full-history ingestion into a versioned document store",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return cfg.Preflight()
	},
}

func init() {
	cfg.Bind(rootCmd.PersistentFlags())
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(backfillCmd)
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
