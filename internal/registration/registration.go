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

// Package registration implements the per-device capability probe (C5):
// it trims a DeviceConfig's requested checks down to what the hardware
// actually supports, per spec.md §4.5.
package registration

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gitlab.clyso.com/clyso/smartd/internal/device"
	"gitlab.clyso.com/clyso/smartd/internal/smartdcfg"
)

// Outcome discriminates whether an entry survived registration.
type Outcome int

const (
	Registered Outcome = iota
	Rejected
)

// Result reports what happened; Reason is empty when Outcome is Registered.
type Result struct {
	Outcome Outcome
	Reason  string
}

// Register runs the probe sequence for one entry and mutates cfg/state
// in place, trimming any check whose capability probe failed. fromScan
// controls whether a rejection logs at CRIT (config-file entry) or INFO
// (synthesized from DEVICESCAN), per spec.md §4.5's final paragraph.
// checkTime is the device's configured cycle time, used to seed the
// temperature tracker's warm-up countdown (spec.md §4.6.1/§9).
func Register(ctx context.Context, dev device.Device, cfg *smartdcfg.DeviceConfig, state *smartdcfg.DeviceState, fromScan bool, checkTime time.Duration) Result {
	logger := log.With().Str("device", cfg.Name).Logger()

	adopted, changed, err := dev.AutodetectOpen(ctx)
	if err != nil {
		return reject(logger, fromScan, "open failed: "+err.Error())
	}
	if changed {
		logger.Info().Msg("device type changed during autodetect; adopting replacement handle")
		dev = adopted
	}

	state.TempMinInc = warmupCycles(checkTime)

	var result Result
	if cfg.DevType == smartdcfg.DevTypeSCSI {
		result = registerSCSI(ctx, logger, dev, cfg, state)
	} else {
		result = registerATA(ctx, logger, dev, cfg, state)
	}
	if result.Outcome == Rejected {
		return reject(logger, fromScan, result.Reason)
	}
	if !cfg.AnyCheckEnabled() {
		return reject(logger, fromScan, "no check survived capability probing")
	}
	return Result{Outcome: Registered}
}

// warmupCycles is CHECKTIME/checktime, forced to at least 1: the number
// of cycles during which the temperature tracker accepts any reading as
// a new minimum, to warm up after power-on (spec.md §4.6.1/§9).
func warmupCycles(checkTime time.Duration) int {
	if checkTime <= 0 {
		return 1
	}
	n := int(smartdcfg.DefaultCheckTime / checkTime)
	if n < 1 {
		return 1
	}
	return n
}

func reject(logger zerolog.Logger, fromScan bool, reason string) Result {
	if fromScan {
		logger.Info().Str("reason", reason).Msg("entry rejected during registration")
	} else {
		logger.Error().Str("reason", reason).Msg("entry rejected during registration")
	}
	return Result{Outcome: Rejected, Reason: reason}
}

// registerATA implements spec.md §4.5 step 2.
func registerATA(ctx context.Context, logger zerolog.Logger, dev device.Device, cfg *smartdcfg.DeviceConfig, state *smartdcfg.DeviceState) Result {
	ident, err := dev.Identify(ctx)
	if err != nil {
		return Result{Outcome: Rejected, Reason: "identify failed: " + err.Error()}
	}
	if cfg.DevType == smartdcfg.DevTypeEmpty {
		cfg.DevType = smartdcfg.DevTypeATA
	}

	if !ident.SmartSupported {
		if !cfg.Permissive {
			return Result{Outcome: Rejected, Reason: "SMART not supported and not permissive"}
		}
		logger.Info().Msg("SMART not supported; continuing due to -T permissive")
	} else if !ident.SmartEnabled {
		if err := dev.SmartEnable(ctx); err != nil {
			logger.Info().Err(err).Msg("failed to enable SMART; disabling smartcheck")
			cfg.Smartcheck = false
		}
	}

	if cfg.Autosave != smartdcfg.Unset {
		if err := dev.SetAutosave(ctx, cfg.Autosave == smartdcfg.Enable); err != nil {
			logger.Info().Err(err).Msg("autosave directive not honored by device")
		}
	}
	if cfg.Autoofflinetest != smartdcfg.Unset {
		if err := dev.SetAutoOfflineTest(ctx, cfg.Autoofflinetest == smartdcfg.Enable); err != nil {
			logger.Info().Err(err).Msg("autoofflinetest directive not honored by device")
		}
	}

	if cfg.Smartcheck {
		if _, err := dev.SmartStatus(ctx); err != nil {
			logger.Info().Err(err).Msg("health-status primitive unavailable; disabling smartcheck")
			cfg.Smartcheck = false
		}
	}

	needsAttributes := cfg.Prefail || cfg.Usage || cfg.Usagefailed ||
		cfg.Pending.MonitorsCurrentPending() || cfg.Pending.MonitorsOfflineUncorrectable() ||
		cfg.TempDiff > 0 || cfg.TempInfo > 0 || cfg.TempCrit > 0
	if needsAttributes {
		values, err := dev.ReadValues(ctx)
		if err != nil {
			logger.Info().Err(err).Msg("read-values failed; disabling attribute-dependent checks")
			cfg.Prefail, cfg.Usage, cfg.Usagefailed = false, false, false
			cfg.Pending.CurrentPendingID, cfg.Pending.OfflineUncorrectableID = smartdcfg.NoMonitorAttribute, smartdcfg.NoMonitorAttribute
			cfg.TempDiff, cfg.TempInfo, cfg.TempCrit = 0, 0, 0
		} else {
			thresholds, terr := dev.ReadThresholds(ctx)
			if terr != nil {
				thresholds = smartdcfg.ThresholdTable{}
			}
			state.SmartVal = values
			state.SmartThres = thresholds
			state.HaveCache = true

			if cfg.Pending.MonitorsCurrentPending() {
				if _, ok := values[cfg.Pending.CurrentPendingID]; !ok {
					logger.Info().Int("attribute_id", cfg.Pending.CurrentPendingID).Msg("current-pending attribute not reported; disabling")
					cfg.Pending.CurrentPendingID = smartdcfg.NoMonitorAttribute
				}
			}
			if cfg.Pending.MonitorsOfflineUncorrectable() {
				if _, ok := values[cfg.Pending.OfflineUncorrectableID]; !ok {
					logger.Info().Int("attribute_id", cfg.Pending.OfflineUncorrectableID).Msg("offline-uncorrectable attribute not reported; disabling")
					cfg.Pending.OfflineUncorrectableID = smartdcfg.NoMonitorAttribute
				}
			}
			if cfg.TempDiff > 0 || cfg.TempInfo > 0 || cfg.TempCrit > 0 {
				if !hasTemperatureAttribute(values) {
					logger.Info().Msg("temperature monitoring requested but no temperature attribute reported; disabling")
					cfg.TempDiff, cfg.TempInfo, cfg.TempCrit = 0, 0, 0
				}
			}
		}
	}

	if cfg.Selftest {
		summary, err := dev.ReadSelfTestLog(ctx)
		if err != nil && !errors.Is(err, device.ErrUnsupported) {
			logger.Info().Err(err).Msg("self-test log unavailable; disabling selftest check")
			cfg.Selftest = false
		} else if errors.Is(err, device.ErrUnsupported) {
			cfg.Selftest = false
		} else {
			// seed the baseline so cycle 1 doesn't treat pre-existing
			// log history as a brand-new event.
			state.SelfLogCount = summary.Count
			state.SelfLogHour = summary.LastHour
		}
	}
	if cfg.Errorlog {
		summary, err := dev.ReadErrorLog(ctx)
		if err != nil && !errors.Is(err, device.ErrUnsupported) {
			logger.Info().Err(err).Msg("error log unavailable; disabling errorlog check")
			cfg.Errorlog = false
		} else if errors.Is(err, device.ErrUnsupported) {
			cfg.Errorlog = false
		} else {
			state.AtaErrorCount = summary.Count
		}
	}
	if cfg.PowerModeGate != smartdcfg.PowerModeAlways {
		if _, err := dev.CheckPowerMode(ctx); err != nil {
			logger.Error().Err(err).Msg("power-mode primitive not ATA-compliant; disabling power-mode gating")
			cfg.PowerModeGate = smartdcfg.PowerModeAlways
		}
	}

	return Result{Outcome: Registered}
}

// registerSCSI implements spec.md §4.5 step 3.
func registerSCSI(ctx context.Context, logger zerolog.Logger, dev device.Device, cfg *smartdcfg.DeviceConfig, state *smartdcfg.DeviceState) Result {
	ready, err := dev.TestUnitReady(ctx)
	if err != nil {
		return Result{Outcome: Rejected, Reason: "test-unit-ready failed: " + err.Error()}
	}
	switch ready {
	case device.ReadyNotReady, device.ReadyNoMedium, device.ReadyBecomingReady:
		logger.Info().Str("ready_status", readyStatusString(ready)).Msg("device not ready; skipping this cycle's registration")
		return Result{Outcome: Rejected, Reason: "device not ready"}
	case device.ReadyFailed:
		return Result{Outcome: Rejected, Reason: "test-unit-ready reported failure"}
	}

	iec, err := dev.FetchIECModePage(ctx)
	if err != nil && !errors.Is(err, device.ErrUnsupported) {
		logger.Info().Err(err).Msg("IEC mode page fetch failed; tolerating (BAD_FIELD-like condition)")
	} else {
		state.ModeSenseLen = iec.ModeSenseLen
		if !iec.ExceptionControlOn {
			logger.Info().Msg("exception control not enabled on device")
		}
	}

	if pages, err := dev.SupportedLogPages(ctx); err == nil {
		state.TempPageSupported = pages[0x0d]
		state.SmartPageSupported = pages[0x2f]
	}

	if _, err := dev.InformationalExceptions(ctx); err != nil {
		logger.Info().Err(err).Msg("informational-exceptions check failed; suppressing further reports")
		state.SuppressReport = true
		cfg.TempDiff, cfg.TempInfo, cfg.TempCrit = 0, 0, 0
	}

	if n, err := dev.CountFailedSelfTests(ctx); err == nil {
		state.SelfLogCount = n
	}

	if cfg.Autosave != smartdcfg.Unset {
		if err := dev.SetGLTSD(ctx, cfg.Autosave == smartdcfg.Disable); err != nil {
			logger.Info().Err(err).Msg("autosave (GLTSD) directive not honored by device")
		}
	}

	return Result{Outcome: Registered}
}

func hasTemperatureAttribute(values smartdcfg.AttributeTable) bool {
	for _, id := range []int{194, 190} {
		if _, ok := values[id]; ok {
			return true
		}
	}
	return false
}

func readyStatusString(r device.ReadyStatus) string {
	switch r {
	case device.ReadyOK:
		return "ready"
	case device.ReadyNotReady:
		return "not_ready"
	case device.ReadyNoMedium:
		return "no_medium"
	case device.ReadyBecomingReady:
		return "becoming_ready"
	default:
		return "failed"
	}
}
