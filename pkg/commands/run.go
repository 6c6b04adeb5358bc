// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and prysm contributors
//
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"gitlab.clyso.com/clyso/smartd/internal/daemon"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitoring loop (the default smartd behavior)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if f.dumpDirectives {
			fmt.Print(directiveHelp)
			return nil
		}
		if f.interval < 10 {
			return fmt.Errorf("interval must be >= 10 seconds, got %d", f.interval)
		}

		quitMode := daemon.QuitMode(f.quitMode)
		d, cleanup, err := buildDaemon(quitMode)
		if err != nil {
			return err
		}
		defer cleanup()

		log.Info().Str("config", f.configPath).Int("interval_s", f.interval).Str("quit_mode", f.quitMode).
			Msg("smartd starting")
		return d.Run(cmd.Context())
	},
}
