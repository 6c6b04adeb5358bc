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

// Package selftest implements the self-test scheduler (C7): compiling a
// device's time-pattern regex, matching it against the current hour,
// deduping repeat matches within the same hour slot, and launching the
// chosen self-test, per spec.md §4.7.
package selftest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"

	"gitlab.clyso.com/clyso/smartd/internal/device"
	"gitlab.clyso.com/clyso/smartd/internal/smartdcfg"
)

// letterOrder is the fixed precedence spec.md §4.6 step 3 names: "pick
// the first eligible in order L, S, C, O".
var letterOrder = []device.SelfTestLetter{
	device.TestLong, device.TestShort, device.TestConveyance, device.TestOfflineImm,
}

// CompilePattern compiles a user-supplied extended regular expression,
// anchoring it so a match must cover the entire "X/MM/DD/w/HH" string,
// per spec.md §4.7's "valid only if it covers the entire string."
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	return regexp.CompilePOSIX("^(?:" + pattern + ")$")
}

// HourSlot computes the dedup key spec.md §4.7 defines:
// 1 + HH + 24*(yday + 366*(year mod 7)).
func HourSlot(t time.Time) int {
	return 1 + t.Hour() + 24*(t.YearDay()+366*(t.Year()%7))
}

// patternString builds the "X/MM/DD/w/HH" string for one candidate
// letter at time t. Weekday: 1=Monday..7=Sunday.
func patternString(letter device.SelfTestLetter, t time.Time) string {
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return fmt.Sprintf("%c/%02d/%02d/%d/%02d", letter, int(t.Month()), t.Day(), weekday, t.Hour())
}

// Due returns the first eligible self-test letter for this device at
// time now, honoring letter precedence, the not-capable memory, and the
// hour-slot dedup rule. ok is false if no letter is due.
func Due(cfg *smartdcfg.DeviceConfig, now time.Time) (letter device.SelfTestLetter, ok bool) {
	td := &cfg.TestData
	if td.Compiled == nil {
		return 0, false
	}
	slot := HourSlot(now)

	var matched device.SelfTestLetter
	found := false
	for _, l := range letterOrder {
		if td.NotCapable != nil && td.NotCapable[byte(l)] {
			continue
		}
		if td.Compiled.MatchString(patternString(l, now)) {
			matched = l
			found = true
			break
		}
	}
	if !found {
		return 0, false
	}

	if td.LastRunHour == slot {
		if td.LastRunLetter != byte(matched) {
			log.Info().Str("letter", string(matched)).Str("previous_letter", string(td.LastRunLetter)).
				Msg("self-test pattern matched again within the same hour slot with a different letter; suppressing")
		}
		return 0, false
	}
	return matched, true
}

// MarkRun records that letter was launched (or attempted) at now's hour
// slot, so a second match within the hour is suppressed.
func MarkRun(cfg *smartdcfg.DeviceConfig, letter device.SelfTestLetter, now time.Time) {
	cfg.TestData.LastRunHour = HourSlot(now)
	cfg.TestData.LastRunLetter = byte(letter)
}

// MarkNotCapable remembers that the device refused this test letter, so
// future scheduling passes skip it.
func MarkNotCapable(cfg *smartdcfg.DeviceConfig, letter device.SelfTestLetter) {
	if cfg.TestData.NotCapable == nil {
		cfg.TestData.NotCapable = map[byte]bool{}
	}
	cfg.TestData.NotCapable[byte(letter)] = true
}

// Launch issues the device-specific self-test primitive. A device-busy
// response is not returned as an error: it is logged at INFO (as the
// tolerated quirk status when the SAMSUNG3 firmware fix is configured,
// otherwise as a skipped launch) and nil is returned, so the caller
// records the hour slot as run. No second launch is attempted in either
// case.
func Launch(ctx context.Context, dev device.Device, cfg *smartdcfg.DeviceConfig, letter device.SelfTestLetter) error {
	err := dev.LaunchSelfTest(ctx, letter)
	if err == nil {
		return nil
	}
	if errors.Is(err, device.ErrSelfTestBusy) {
		if cfg.FixFirmwareBug == smartdcfg.FixSamsung3 {
			log.Info().Str("device", cfg.Name).Msg("self-test busy status tolerated under SAMSUNG3 firmware quirk")
			return nil
		}
		log.Info().Str("device", cfg.Name).Str("letter", string(letter)).
			Msg("self-test already in progress; skipping this launch")
		return nil
	}
	return err
}

// ScheduleEntry is one upcoming self-test occurrence for the "-q showtests"
// pre-flight preview.
type ScheduleEntry struct {
	Letter device.SelfTestLetter
	When   time.Time
}

// PreviewSchedule walks the next 90 days in checktime-second steps,
// simulating the regex match, and returns up to 5 upcoming occurrences
// per letter, per spec.md §4.7's pre-flight mode.
func PreviewSchedule(cfg *smartdcfg.DeviceConfig, now time.Time, checktime time.Duration) map[device.SelfTestLetter][]time.Time {
	result := map[device.SelfTestLetter][]time.Time{}
	if cfg.TestData.Compiled == nil {
		return result
	}
	const horizon = 90 * 24 * time.Hour
	seenHourSlot := map[int]bool{}

	for t := now; t.Sub(now) < horizon; t = t.Add(checktime) {
		slot := HourSlot(t)
		if seenHourSlot[slot] {
			continue
		}
		for _, l := range letterOrder {
			if len(result[l]) >= 5 {
				continue
			}
			if cfg.TestData.NotCapable != nil && cfg.TestData.NotCapable[byte(l)] {
				continue
			}
			if cfg.TestData.Compiled.MatchString(patternString(l, t)) {
				result[l] = append(result[l], t)
				seenHourSlot[slot] = true
				break
			}
		}
	}
	return result
}
