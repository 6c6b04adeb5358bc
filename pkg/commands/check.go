// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and prysm contributors
//
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"gitlab.clyso.com/clyso/smartd/internal/daemon"
)

// checkCmd runs exactly one check cycle over every registered device
// and exits, equivalent to `-q onecheck` (spec.md §6).
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run a single check cycle over all configured devices and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cleanup, err := buildDaemon(daemon.QuitOnecheck)
		if err != nil {
			return err
		}
		defer cleanup()

		log.Info().Str("config", f.configPath).Msg("smartd running a single check cycle")
		return d.Run(cmd.Context())
	},
}
