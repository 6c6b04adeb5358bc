// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and prysm contributors
//
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"gitlab.clyso.com/clyso/smartd/internal/daemon"
	"gitlab.clyso.com/clyso/smartd/internal/selftest"
)

// scheduleCmd previews upcoming self-test occurrences without running
// the monitoring loop, equivalent to `-q showtests` (spec.md §6).
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Preview the upcoming self-test schedule and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cleanup, err := buildDaemon(daemon.QuitShowtests)
		if err != nil {
			return err
		}
		defer cleanup()

		entries, err := d.LoadAndRegister(cmd.Context())
		if err != nil {
			return err
		}

		now := time.Now()
		checkTime := intervalDuration()
		bar := progressbar.Default(int64(len(entries)), "computing schedule")
		for _, entry := range entries {
			if entry.Config.Selftest {
				schedule := selftest.PreviewSchedule(entry.Config, now, checkTime)
				for letter, occurrences := range schedule {
					for _, t := range occurrences {
						fmt.Printf("%s: %c scheduled at %s\n", entry.Config.Name, letter, t.Format(time.RFC3339))
					}
				}
			}
			_ = bar.Add(1)
		}
		return nil
	},
}
