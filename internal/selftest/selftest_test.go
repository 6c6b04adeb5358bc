// Copyright (C) 2024 Clyso GmbH
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package selftest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.clyso.com/clyso/smartd/internal/device"
	"gitlab.clyso.com/clyso/smartd/internal/smartdcfg"
)

func cfgWithPattern(t *testing.T, pattern string) *smartdcfg.DeviceConfig {
	t.Helper()
	re, err := CompilePattern(pattern)
	require.NoError(t, err)
	return &smartdcfg.DeviceConfig{
		Name: "/dev/sda",
		TestData: smartdcfg.TestData{Regex: pattern, Compiled: re},
	}
}

func TestDueMatchesLongTestEveryDayAtTwoAM(t *testing.T) {
	cfg := cfgWithPattern(t, `L/../../../02`)
	now := time.Date(2026, 3, 15, 2, 0, 0, 0, time.UTC)

	letter, ok := Due(cfg, now)
	require.True(t, ok)
	assert.Equal(t, device.TestLong, letter)
}

func TestDueNoMatchOutsideWindow(t *testing.T) {
	cfg := cfgWithPattern(t, `L/../../../02`)
	now := time.Date(2026, 3, 15, 3, 0, 0, 0, time.UTC)

	_, ok := Due(cfg, now)
	assert.False(t, ok)
}

func TestDueDedupsWithinSameHourSlot(t *testing.T) {
	cfg := cfgWithPattern(t, `L/../../../02`)
	now := time.Date(2026, 3, 15, 2, 0, 0, 0, time.UTC)

	letter, ok := Due(cfg, now)
	require.True(t, ok)
	MarkRun(cfg, letter, now)

	later := now.Add(30 * time.Minute)
	_, ok = Due(cfg, later)
	assert.False(t, ok)
}

func TestDueAllowsNextHourSlot(t *testing.T) {
	cfg := cfgWithPattern(t, `L/../../../02`)
	now := time.Date(2026, 3, 15, 2, 0, 0, 0, time.UTC)
	MarkRun(cfg, device.TestLong, now)

	nextYear := time.Date(2027, 3, 15, 2, 0, 0, 0, time.UTC)
	_, ok := Due(cfg, nextYear)
	assert.True(t, ok)
}

func TestDuePrefersLetterPrecedence(t *testing.T) {
	cfg := cfgWithPattern(t, `[LS]/../../../02`)
	now := time.Date(2026, 3, 15, 2, 0, 0, 0, time.UTC)

	letter, ok := Due(cfg, now)
	require.True(t, ok)
	assert.Equal(t, device.TestLong, letter)
}

func TestDueSkipsNotCapableLetter(t *testing.T) {
	cfg := cfgWithPattern(t, `[LS]/../../../02`)
	now := time.Date(2026, 3, 15, 2, 0, 0, 0, time.UTC)
	MarkNotCapable(cfg, device.TestLong)

	letter, ok := Due(cfg, now)
	require.True(t, ok)
	assert.Equal(t, device.TestShort, letter)
}

func TestHourSlotDistinctAcrossHours(t *testing.T) {
	a := time.Date(2026, 3, 15, 2, 0, 0, 0, time.UTC)
	b := time.Date(2026, 3, 15, 3, 0, 0, 0, time.UTC)
	assert.NotEqual(t, HourSlot(a), HourSlot(b))
}

func TestLaunchToleratesBusyStatus(t *testing.T) {
	fd := device.NewFakeDevice("/dev/sda", device.Cycle{})
	fd.SelfTestBusy = true
	cfg := &smartdcfg.DeviceConfig{Name: "/dev/sda"}

	err := Launch(context.Background(), fd, cfg, device.TestLong)
	assert.NoError(t, err)
}

func TestLaunchSamsung3QuirkTreatsBusyAsSuccess(t *testing.T) {
	fd := device.NewFakeDevice("/dev/sda", device.Cycle{})
	fd.SelfTestBusy = true
	cfg := &smartdcfg.DeviceConfig{Name: "/dev/sda", FixFirmwareBug: smartdcfg.FixSamsung3}

	err := Launch(context.Background(), fd, cfg, device.TestLong)
	assert.NoError(t, err)
}

func TestPreviewScheduleReturnsUpcomingOccurrences(t *testing.T) {
	cfg := cfgWithPattern(t, `L/../../../02`)
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	schedule := PreviewSchedule(cfg, now, time.Hour)
	require.NotEmpty(t, schedule[device.TestLong])
	assert.LessOrEqual(t, len(schedule[device.TestLong]), 5)
}
