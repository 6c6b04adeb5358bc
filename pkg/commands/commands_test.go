// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and prysm contributors
//
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvFallback(t *testing.T) {
	t.Setenv("SMARTD_TEST_STRING", "")
	assert.Equal(t, "fallback", getEnv("SMARTD_TEST_STRING_UNSET", "fallback"))
}

func TestGetEnvOverride(t *testing.T) {
	t.Setenv("SMARTD_TEST_STRING", "custom")
	assert.Equal(t, "custom", getEnv("SMARTD_TEST_STRING", "fallback"))
}

func TestGetEnvIntFallback(t *testing.T) {
	assert.Equal(t, 42, getEnvInt("SMARTD_TEST_INT_UNSET", 42))
}

func TestGetEnvBoolOverride(t *testing.T) {
	t.Setenv("SMARTD_TEST_BOOL", "true")
	assert.True(t, getEnvBool("SMARTD_TEST_BOOL", false))
}

func TestIntervalDuration(t *testing.T) {
	f.interval = 1800
	assert.Equal(t, 1800*time.Second, intervalDuration())
}

func TestRootCommandHasExpectedSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["check"])
	assert.True(t, names["schedule"])
	assert.True(t, names["version"])
}
