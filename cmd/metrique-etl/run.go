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
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/metriqueio/metrique-etl/internal/oiddiff"
)

var lastUpdateFlag string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Current-value ingestion: snapshot a new version for each object whose fields changed",
	RunE: func(cmd *cobra.Command, args []string) error {
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

		log.WithField("table", cfg.Table).Info("starting current-value ingestion")
		return driver.GetCurrent(ctx, resolveForce(), lastUpdate)
	},
}

func init() {
	runCmd.Flags().StringVar(&lastUpdateFlag, "lastUpdate", "", "RFC3339 timestamp overriding the persisted changed-oids watermark")
}

func resolveForce() oiddiff.Force {
	switch {
	case cfg.ForceAll:
		return oiddiff.ForceAll()
	case len(cfg.ForceOIDs) > 0:
		oids := make([]any, len(cfg.ForceOIDs))
		for i, s := range cfg.ForceOIDs {
			oids[i] = s
		}
		return oiddiff.ForceExact(oids...)
	default:
		return oiddiff.Force{}
	}
}

func parseLastUpdate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, errors.Wrap(err, "parse --lastUpdate")
	}
	return &t, nil
}
