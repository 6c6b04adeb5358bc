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

// Package checkengine runs one per-device cycle (C6): the fixed
// sequence of probes, comparators, and warning dispatches spec.md §4.6
// specifies, for both the ATA and SCSI device families.
package checkengine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gitlab.clyso.com/clyso/smartd/internal/device"
	"gitlab.clyso.com/clyso/smartd/internal/metrics"
	"gitlab.clyso.com/clyso/smartd/internal/notifier"
	"gitlab.clyso.com/clyso/smartd/internal/selftest"
	"gitlab.clyso.com/clyso/smartd/internal/smartdcfg"
)

// powerModePause is the delay between the two power-mode reads spec.md
// §4.6 step 4 specifies, to absorb a device mid-spin-up.
var powerModePause = 5 * time.Second

// Engine runs cycles against a fixed Notifier/Metrics pair, shared
// across every device it checks.
type Engine struct {
	Notifier *notifier.Notifier
	Metrics  *metrics.Registry

	// sleep is the power-mode-pause seam; tests override it to avoid
	// real wall-clock waits.
	sleep func(time.Duration)
}

func New(n *notifier.Notifier, m *metrics.Registry) *Engine {
	return &Engine{Notifier: n, Metrics: m, sleep: time.Sleep}
}

// Run executes one full cycle for one device, per the step order in
// spec.md §4.6. It never returns an error: every failure is handled by
// dispatching a notifier warning and/or an INFO/CRIT log line, matching
// the "transient I/O never aborts the daemon" propagation policy.
func (e *Engine) Run(ctx context.Context, dev device.Device, cfg *smartdcfg.DeviceConfig, state *smartdcfg.DeviceState) {
	logger := log.With().Str("device", cfg.Name).Logger()

	if cfg.MailWarn.TestFlag {
		e.dispatch(ctx, cfg, notifier.ClassTest, "smartd test email", fmt.Sprintf("This is a test warning from smartd for device %s.", cfg.Name))
	}

	if err := dev.Open(ctx); err != nil {
		e.dispatch(ctx, cfg, notifier.ClassOpenFailed, "unable to open device",
			fmt.Sprintf("Device: %s, unable to open device: %s", cfg.Name, err))
		return
	}
	defer dev.Close()

	var dueLetter device.SelfTestLetter
	var selfTestDue bool
	if cfg.Selftest {
		dueLetter, selfTestDue = selftest.Due(cfg, time.Now())
	}

	if cfg.PowerModeGate != smartdcfg.PowerModeAlways {
		skip, mode := e.checkPowerSkip(ctx, logger, dev, cfg, state, selfTestDue)
		if skip {
			state.PowerSkipCnt++
			logger.Info().Str("power_mode", powerModeString(mode)).Int("skip_count", state.PowerSkipCnt).
				Msg("device in low power state; skipping check")
			return
		}
		if state.PowerSkipCnt > 0 {
			logger.Info().Int("skip_count", state.PowerSkipCnt).Msg("resuming checks after power-mode skip")
			state.PowerSkipCnt = 0
		}
	}

	if cfg.DevType == smartdcfg.DevTypeSCSI {
		e.runSCSI(ctx, logger, dev, cfg, state)
	} else {
		e.runATA(ctx, logger, dev, cfg, state)
	}

	if selfTestDue {
		if err := selftest.Launch(ctx, dev, cfg, dueLetter); err != nil {
			logger.Error().Err(err).Str("letter", string(dueLetter)).Msg("self-test launch failed")
		} else {
			selftest.MarkRun(cfg, dueLetter, time.Now())
		}
	}
}

func (e *Engine) checkPowerSkip(ctx context.Context, logger zerolog.Logger, dev device.Device, cfg *smartdcfg.DeviceConfig, state *smartdcfg.DeviceState, selfTestDue bool) (bool, device.PowerMode) {
	first, err := dev.CheckPowerMode(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("power-mode primitive not ATA-compliant; disabling power-mode gating")
		cfg.PowerModeGate = smartdcfg.PowerModeAlways
		return false, device.PowerActive
	}
	e.sleep(powerModePause)
	second, err := dev.CheckPowerMode(ctx)
	if err != nil {
		return false, first
	}
	if second == device.PowerUnknown {
		logger.Error().Msg("non-ATA-compliant power mode value; disabling power-mode gating")
		cfg.PowerModeGate = smartdcfg.PowerModeAlways
		return false, second
	}
	if selfTestDue {
		return false, second
	}
	return powerGateSkips(cfg.PowerModeGate, second), second
}

// powerGateSkips maps the configured power-mode gate level to the set of
// measured states it tolerates skipping, per spec.md §3's powermode
// enum (0=always check, 1=skip if SLEEP, 2=skip if SLEEP/STANDBY,
// 3=skip if SLEEP/STANDBY/IDLE).
func powerGateSkips(gate smartdcfg.PowerMode, measured device.PowerMode) bool {
	switch gate {
	case smartdcfg.PowerModeSkipSleep:
		return measured == device.PowerSleep
	case smartdcfg.PowerModeSkipStandby:
		return measured == device.PowerSleep || measured == device.PowerStandby
	case smartdcfg.PowerModeSkipIdle:
		return measured == device.PowerSleep || measured == device.PowerStandby || measured == device.PowerIdle
	default:
		return false
	}
}

func powerModeString(m device.PowerMode) string {
	switch m {
	case device.PowerActive:
		return "active"
	case device.PowerIdle:
		return "idle"
	case device.PowerStandby:
		return "standby"
	case device.PowerSleep:
		return "sleep"
	default:
		return "unknown"
	}
}

// runATA implements spec.md §4.6 steps 5-8 for the ATA family.
func (e *Engine) runATA(ctx context.Context, logger zerolog.Logger, dev device.Device, cfg *smartdcfg.DeviceConfig, state *smartdcfg.DeviceState) {
	if cfg.Smartcheck {
		health, err := dev.SmartStatus(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("health-status primitive failed")
		} else {
			switch health {
			case device.HealthFailed:
				e.dispatch(ctx, cfg, notifier.ClassHealthFailed, "SMART health check failed",
					fmt.Sprintf("Device: %s, FAILED SMART health check", cfg.Name))
				state.HealthUnsupported = false
			case device.HealthUnsupported:
				e.dispatch(ctx, cfg, notifier.ClassHealthUnsupported, "SMART health check unsupported",
					fmt.Sprintf("Device: %s, SMART health check is UNSUPPORTED", cfg.Name))
				state.HealthUnsupported = true
			default:
				state.HealthUnsupported = false
			}
		}
	}

	needsAttributes := cfg.Prefail || cfg.Usage || cfg.Usagefailed ||
		cfg.Pending.MonitorsCurrentPending() || cfg.Pending.MonitorsOfflineUncorrectable() ||
		cfg.TempDiff > 0 || cfg.TempInfo > 0 || cfg.TempCrit > 0
	if needsAttributes {
		e.runAttributeChecks(ctx, logger, dev, cfg, state)
	}

	if cfg.Selftest {
		e.checkSelfTestLog(ctx, logger, dev, cfg, state)
	}
	if cfg.Errorlog {
		e.checkErrorLog(ctx, logger, dev, cfg, state)
	}

	if e.Metrics != nil {
		e.Metrics.ObserveCycle(cfg.Name, state.Temperature, sectorCount(state.SmartVal, cfg.Pending.CurrentPendingID),
			sectorCount(state.SmartVal, reallocatedSectorAttribute), state.AtaErrorCount, state.SelfLogCount)
	}
}

// reallocatedSectorAttribute is the ATA Reallocated_Sector_Ct attribute
// id, fed to the disk_reallocated_sectors gauge.
const reallocatedSectorAttribute = 5

func sectorCount(values smartdcfg.AttributeTable, id int) int {
	if id == smartdcfg.NoMonitorAttribute {
		return 0
	}
	v, ok := values[id]
	if !ok {
		return 0
	}
	return int(v.RawUint())
}

func (e *Engine) runAttributeChecks(ctx context.Context, logger zerolog.Logger, dev device.Device, cfg *smartdcfg.DeviceConfig, state *smartdcfg.DeviceState) {
	values, err := dev.ReadValues(ctx)
	if err != nil {
		e.dispatch(ctx, cfg, notifier.ClassReadValuesFailed, "failed to read SMART attributes",
			fmt.Sprintf("Device: %s, failed to read SMART attribute data", cfg.Name))
		return
	}

	if cfg.Pending.MonitorsCurrentPending() {
		e.checkPendingSector(ctx, cfg, values, cfg.Pending.CurrentPendingID, notifier.ClassCurrentPendingSector, "Current_Pending_Sector")
	}
	if cfg.Pending.MonitorsOfflineUncorrectable() {
		e.checkPendingSector(ctx, cfg, values, cfg.Pending.OfflineUncorrectableID, notifier.ClassOfflineUncorrectable, "Offline_Uncorrectable")
	}

	if temp, ok := readTemperature(values); ok {
		e.trackTemperature(ctx, logger, cfg, state, temp, 0)
	}

	if cfg.Usagefailed {
		for id, val := range values {
			if cfg.MonitorFlags.IsOff(smartdcfg.CategoryFailUse, id) {
				continue
			}
			threshold, ok := state.SmartThres[id]
			if !ok || val.Prefail {
				continue
			}
			if threshold > 0 && val.Value <= threshold {
				e.dispatch(ctx, cfg, notifier.ClassUsageAttribute, "usage attribute failed",
					fmt.Sprintf("Device: %s, Failed SMART usage Attribute: %d", cfg.Name, id))
			}
		}
	}

	if cfg.Usage || cfg.Prefail {
		for id, newVal := range values {
			oldVal, hadOld := state.SmartVal[id]
			if !hadOld {
				continue
			}
			threshold := state.SmartThres[id]
			delta, changed := ataAttributeDelta(oldVal, newVal, threshold)
			if !changed {
				continue
			}
			if cfg.MonitorFlags.IsOff(smartdcfg.CategoryIgnore, id) {
				continue
			}
			if delta.Prefail && !cfg.Prefail {
				continue
			}
			if !delta.Prefail && !cfg.Usage {
				continue
			}
			logAttributeChange(logger, cfg, delta, oldVal, newVal)
		}
	}

	state.SmartVal = values
	state.HaveCache = true
}

func (e *Engine) checkPendingSector(ctx context.Context, cfg *smartdcfg.DeviceConfig, values smartdcfg.AttributeTable, id int, class int, label string) {
	val, ok := values[id]
	if !ok {
		return
	}
	raw := val.RawUint()
	if raw > 0 {
		e.dispatch(ctx, cfg, class, label+" sectors present",
			fmt.Sprintf("Device: %s, %s count %d", cfg.Name, label, raw))
	}
}

func readTemperature(values smartdcfg.AttributeTable) (int, bool) {
	for _, id := range []int{194, 190} {
		if v, ok := values[id]; ok {
			return v.Value, true
		}
	}
	return 0, false
}

// attributeDelta is the comparator's result for one changed slot.
type attributeDelta struct {
	ID       int
	OldNorm  int
	NewNorm  int
	Prefail  bool
	SameRaw  bool
}

// ataAttributeDelta implements spec.md §4.6's "ATA attribute delta
// rule".
func ataAttributeDelta(oldVal, newVal smartdcfg.AttributeValue, threshold int) (attributeDelta, bool) {
	if oldVal.ID == 0 || newVal.ID == 0 {
		return attributeDelta{}, false
	}
	if oldVal.ID != newVal.ID {
		log.Info().Int("old_id", oldVal.ID).Int("new_id", newVal.ID).Msg("attribute slot id changed between reads")
		return attributeDelta{}, false
	}
	if oldVal.Value == 0 || oldVal.Value > 0xFE || newVal.Value == 0 || newVal.Value > 0xFE {
		return attributeDelta{}, false
	}
	if oldVal.SameRaw(newVal) && oldVal.Value == newVal.Value {
		return attributeDelta{}, false
	}
	return attributeDelta{
		ID:      newVal.ID,
		OldNorm: oldVal.Value,
		NewNorm: newVal.Value,
		Prefail: newVal.Prefail,
		SameRaw: oldVal.SameRaw(newVal),
	}, true
}

func logAttributeChange(logger zerolog.Logger, cfg *smartdcfg.DeviceConfig, delta attributeDelta, oldVal, newVal smartdcfg.AttributeValue) {
	if !delta.SameRaw && delta.OldNorm == delta.NewNorm && cfg.MonitorFlags.IsOff(smartdcfg.CategoryRaw, delta.ID) {
		// only the raw changed and RAW tracking is masked: nothing to report.
		return
	}
	kind := "usage"
	if delta.Prefail {
		kind = "prefailure"
	}
	event := logger.Info().Int("attribute_id", delta.ID).Str("kind", kind).
		Int("old_value", delta.OldNorm).Int("new_value", delta.NewNorm)

	if !delta.SameRaw && cfg.MonitorFlags.IsOn(smartdcfg.CategoryRawPrint, delta.ID) {
		event = event.Uint64("old_raw", oldVal.RawUint()).Uint64("new_raw", newVal.RawUint())
	}
	event.Msg("attribute value changed")
}

func (e *Engine) checkSelfTestLog(ctx context.Context, logger zerolog.Logger, dev device.Device, cfg *smartdcfg.DeviceConfig, state *smartdcfg.DeviceState) {
	summary, err := dev.ReadSelfTestLog(ctx)
	if err != nil {
		e.dispatch(ctx, cfg, notifier.ClassReadSelfTestLogFailed, "failed to read self-test log",
			fmt.Sprintf("Device: %s, failed to read SMART self-test log", cfg.Name))
		return
	}
	if summary.Count > state.SelfLogCount {
		e.dispatch(ctx, cfg, notifier.ClassSelfTestIncrease, "new self-test error",
			fmt.Sprintf("Device: %s, self-test log error count increased from %d to %d", cfg.Name, state.SelfLogCount, summary.Count))
	} else if summary.LastHour != state.SelfLogHour {
		e.dispatch(ctx, cfg, notifier.ClassSelfTestIncrease, "new self-test error",
			fmt.Sprintf("Device: %s, new self-test error at hour %d", cfg.Name, summary.LastHour))
	}
	state.SelfLogCount = summary.Count
	state.SelfLogHour = summary.LastHour
}

func (e *Engine) checkErrorLog(ctx context.Context, logger zerolog.Logger, dev device.Device, cfg *smartdcfg.DeviceConfig, state *smartdcfg.DeviceState) {
	summary, err := dev.ReadErrorLog(ctx)
	if err != nil {
		e.dispatch(ctx, cfg, notifier.ClassReadErrorLogFailed, "failed to read error log",
			fmt.Sprintf("Device: %s, failed to read ATA error log", cfg.Name))
		return
	}
	if summary.Count > state.AtaErrorCount {
		e.dispatch(ctx, cfg, notifier.ClassATAErrorIncrease, "ATA error count increased",
			fmt.Sprintf("Device: %s, ATA error count increased from %d to %d", cfg.Name, state.AtaErrorCount, summary.Count))
	}
	state.AtaErrorCount = summary.Count
}

// trackTemperature implements the §4.6.1 tracker. tripTemp is the
// device-reported trip point (0 if unknown), used only for the initial
// log line.
func (e *Engine) trackTemperature(ctx context.Context, logger zerolog.Logger, cfg *smartdcfg.DeviceConfig, state *smartdcfg.DeviceState, t int, tripTemp int) {
	if t == 0 {
		return
	}
	if state.Temperature == 0 {
		state.Temperature = t
		state.TempMin = t
		state.TempMax = t
		logger.Info().Int("temperature", t).Int("trip_temperature", tripTemp).Msg("initial temperature reading")
	}

	changed := false
	if state.TempMinInc > 0 {
		// warm-up: any reading becomes the new minimum.
		state.TempMinInc--
		if t != state.TempMin {
			state.TempMin = t
			changed = true
		}
	} else if t < state.TempMin {
		state.TempMin = t
		changed = true
	}
	if t > state.TempMax {
		state.TempMax = t
		changed = true
	}
	if abs(t-state.Temperature) >= cfg.TempDiff {
		changed = true
	}
	if changed {
		logger.Info().Int("temperature", t).Int("min", state.TempMin).Int("max", state.TempMax).Msg("temperature changed")
		state.Temperature = t
	}

	if cfg.TempCrit > 0 && t >= cfg.TempCrit {
		e.dispatch(ctx, cfg, notifier.ClassTemperatureCritical, "critical temperature reached",
			fmt.Sprintf("Device: %s, temperature %d exceeds critical limit %d", cfg.Name, t, cfg.TempCrit))
	} else if cfg.TempInfo > 0 && t >= cfg.TempInfo {
		logger.Info().Int("temperature", t).Int("limit", cfg.TempInfo).Msg("temperature reached info limit")
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// runSCSI implements spec.md §4.6's SCSI path.
func (e *Engine) runSCSI(ctx context.Context, logger zerolog.Logger, dev device.Device, cfg *smartdcfg.DeviceConfig, state *smartdcfg.DeviceState) {
	ie, err := dev.InformationalExceptions(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("informational-exceptions check failed")
	} else {
		if ie.ASC != 0 || ie.ASCQ != 0 {
			e.dispatch(ctx, cfg, notifier.ClassHealthFailed, "SCSI informational exception",
				fmt.Sprintf("Device: %s, ASC=0x%02x, ASCQ=0x%02x", cfg.Name, ie.ASC, ie.ASCQ))
		}
		if !state.SuppressReport && (cfg.TempDiff > 0 || cfg.TempInfo > 0 || cfg.TempCrit > 0) {
			e.trackTemperature(ctx, logger, cfg, state, ie.CurrentTemp, ie.TripTemp)
		}
	}

	if cfg.Selftest {
		n, err := dev.CountFailedSelfTests(ctx)
		if err != nil {
			e.dispatch(ctx, cfg, notifier.ClassReadSelfTestLogFailed, "failed to read self-test counter",
				fmt.Sprintf("Device: %s, failed to read SCSI self-test counter", cfg.Name))
		} else if n > state.SelfLogCount {
			e.dispatch(ctx, cfg, notifier.ClassSelfTestIncrease, "new self-test error",
				fmt.Sprintf("Device: %s, self-test error count increased from %d to %d", cfg.Name, state.SelfLogCount, n))
			state.SelfLogCount = n
		} else {
			state.SelfLogCount = n
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, cfg *smartdcfg.DeviceConfig, class int, subject, logLine string) {
	log.Error().Str("device", cfg.Name).Int("class", class).Msg(logLine)
	if e.Notifier == nil {
		return
	}
	if err := e.Notifier.Dispatch(ctx, &cfg.MailWarn, notifier.Request{
		DeviceName: cfg.Name,
		DeviceType: string(cfg.DevType),
		Class:      class,
		Subject:    subject,
		LogLine:    logLine,
	}); err != nil {
		log.Error().Err(err).Str("device", cfg.Name).Msg("notifier dispatch failed")
	}
}
