// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and prysm contributors
//
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is overridden at build time via -ldflags "-X ...commands.version=...".
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and license information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("smartd %s\n", version)
		fmt.Println("Licensed under the Apache License, Version 2.0.")
	},
}
