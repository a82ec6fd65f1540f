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

package main

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Full-history ingestion: reconstruct every historical version from the change-log",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.ChangeLogTable == "" {
			return errors.New("backfill requires --changeLogTable")
		}
		ctx := cmd.Context()

		driver, cleanup, err := newDriver(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		lastUpdate, err := parseLastUpdate(lastUpdateFlag)
		if err != nil {
			return err
		}

		log.WithField("table", cfg.Table).Info("starting full-history ingestion")
		return driver.GetFullHistory(ctx, resolveForce(), lastUpdate)
	},
}

func init() {
	backfillCmd.Flags().StringVar(&lastUpdateFlag, "lastUpdate", "", "RFC3339 timestamp overriding the persisted changed-oids watermark")
}
