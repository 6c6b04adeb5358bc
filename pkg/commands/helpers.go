// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and prysm contributors
//
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"os"
	"strconv"
	"time"
)

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func intervalDuration() time.Duration {
	return time.Duration(f.interval) * time.Second
}

// directiveHelp documents the per-device config file directives for `-D`,
// per spec.md §6's "dump directives help and exit".
const directiveHelp = `Configuration directives (one entry per logical line, "#" comments, trailing "\" continues):
  -d TYPE            device type: ata, scsi, sat, removable, auto
  -T normal|permissive
  -o on|off          automatic offline testing
  -S on|off          attribute autosave
  -n never|sleep|standby|idle[,q]   power-mode gating
  -H                 health check
  -s REGEX           self-test schedule
  -l error|selftest  log watching
  -f                 usage-attribute failures
  -m ADDR[,ADDR...]  warning recipients
  -M once|daily|diminishing|test|exec CMD
  -p -u -t           prefail / usage / both attribute tracking
  -r ID, -R ID       raw value print / raw tracking
  -i ID, -I ID       ignore for fail / tracking
  -C ID              current-pending-sector attribute (default 197, 0 disables)
  -U ID              offline-uncorrectable attribute (default 198, 0 disables)
  -W D,I,C           temperature diff/info/critical thresholds
  -v N,ST            attribute labeling
  -P use|ignore|show|showall
  -a                 equivalent to -H -f -t -l error -l selftest -C 197 -U 198
  -F none|samsung|samsung2|samsung3
`
