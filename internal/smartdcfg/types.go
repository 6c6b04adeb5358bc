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

// Package smartdcfg holds the per-device configuration and runtime state
// model: the typed record the parser builds (DeviceConfig), the mutable
// state the check engine accumulates across cycles (DeviceState), and the
// small enums/bitsets both lean on.
package smartdcfg

import (
	"regexp"
	"time"
)

// DefaultCheckTime is CHECKTIME, the reference cycle time the temperature
// tracker's warm-up countdown is scaled against (spec.md §4.6.1/§9).
const DefaultCheckTime = 1800 * time.Second

// DevType is the requested or detected transport for a device entry.
type DevType string

const (
	DevTypeAuto  DevType = "auto"
	DevTypeATA   DevType = "ata"
	DevTypeSCSI  DevType = "scsi"
	DevTypeSAT   DevType = "sat"
	DevTypeNVMe  DevType = "nvme"
	DevTypeEmpty DevType = ""
)

// TriState models a directive that can be left unset, or explicitly
// disabled/enabled (autosave, autoofflinetest).
type TriState int

const (
	Unset TriState = iota
	Disable
	Enable
)

// FirmwareBugFix names a vendor firmware quirk workaround.
type FirmwareBugFix int

const (
	FixNone FirmwareBugFix = iota
	FixSamsung
	FixSamsung2
	FixSamsung3
)

// PowerMode gates how aggressively a check is skipped while the device is
// spun down. Higher values skip more power states.
type PowerMode int

const (
	PowerModeAlways       PowerMode = 0 // check regardless of power state
	PowerModeSkipSleep    PowerMode = 1
	PowerModeSkipStandby  PowerMode = 2
	PowerModeSkipIdle     PowerMode = 3
)

// NoMonitorAttribute is the sentinel stored in PendingSectors when a half
// is not being monitored (attribute id 0 is never a valid attribute, so
// it doubles as "don't monitor this half").
const NoMonitorAttribute = 0

// PendingSectors packs the two attribute ids the check engine watches for
// growing sector counts. Modeled as an explicit record (not a packed
// 16-bit integer) per the Open Questions resolution in spec.md §9.
type PendingSectors struct {
	CurrentPendingID     int // default 197, 0 disables
	OfflineUncorrectableID int // default 198, 0 disables
}

// Monitors reports whether a half is active.
func (p PendingSectors) MonitorsCurrentPending() bool { return p.CurrentPendingID != NoMonitorAttribute }
func (p PendingSectors) MonitorsOfflineUncorrectable() bool {
	return p.OfflineUncorrectableID != NoMonitorAttribute
}

// AttributeLabel describes how one attribute id should be printed
// (-v ID,FORMAT directive).
type AttributeLabel struct {
	Name   string
	Format string
}

// TestData holds the compiled self-test schedule and the per-device
// dedup/capability memory the scheduler consults.
type TestData struct {
	Regex         string
	Compiled      *regexp.Regexp
	LastRunHour   int  // hour slot of the most recent launched test, 0 = never
	LastRunLetter byte // 'L','S','C','O'
	NotCapable    map[byte]bool
}

// EmailFreq is the notifier's rate-limit policy for a device's warnings.
type EmailFreq int

const (
	FreqUnset       EmailFreq = 0
	FreqOnce        EmailFreq = 1
	FreqDaily       EmailFreq = 2
	FreqDiminishing EmailFreq = 3
)

// NMailClasses is the number of independent rate-limit counters: one per
// failure class enumerated in spec.md §7 (0..12).
const NMailClasses = 13

// NoMailer is the literal address meaning "do not use a mail transport,
// only the configured exec command."
const NoMailer = "<nomailer>"

// MailLog is one failure class's rate-limit bookkeeping.
type MailLog struct {
	Logged    int
	FirstSent time.Time
	LastSent  time.Time
}

// MailWarn is the notifier configuration for one device.
type MailWarn struct {
	Addresses []string
	ExecCmd   string
	TestFlag  bool
	Frequency EmailFreq
	Log       [NMailClasses]MailLog
}

// DeviceConfig is the per-entry record the parser builds and the
// registration step enriches/trims. It never changes after registration
// completes, except for TestData.LastRunHour/LastRunLetter/NotCapable,
// MailWarn.Log, and PowerModeGate (reset to PowerModeAlways when the
// device reports a non-compliant power mode), which the check engine and
// scheduler update in place.
type DeviceConfig struct {
	Name   string
	DevType DevType
	LineNo int // 0 means synthesized from a DEVICESCAN directive

	Smartcheck    bool
	Usagefailed   bool
	Prefail       bool
	Usage         bool
	Selftest      bool
	Errorlog      bool
	Permissive    bool
	Ignorepresets bool
	Showpresets   bool
	Removable     bool
	Powerquiet    bool

	Autosave        TriState
	Autoofflinetest TriState
	FixFirmwareBug  FirmwareBugFix
	PowerModeGate   PowerMode

	Pending PendingSectors

	TempDiff int // 0..255
	TempInfo int
	TempCrit int

	AttributeDefs [256]AttributeLabel
	MonitorFlags  AttributeMonitorFlags

	TestData TestData
	MailWarn MailWarn
}

// AnyCheckEnabled reports whether at least one check-enabling directive
// survived parsing/registration (spec.md §3 invariant: "After
// registration, at least one check must be enabled").
func (c *DeviceConfig) AnyCheckEnabled() bool {
	return c.Smartcheck || c.Usagefailed || c.Prefail || c.Usage ||
		c.Selftest || c.Errorlog
}

// AttributeValue is one parsed SMART attribute slot (ATA).
type AttributeValue struct {
	ID        int
	Value     int // normalized, 0..255 where 0 and >0xFE are "not valid"
	Worst     int
	Raw       [6]byte
	Prefail   bool // attribute flags bit 0: prefail vs usage
}

// RawUint decodes the 6-byte raw value as an unsigned 48-bit integer, the
// conventional interpretation for sector/error counters.
func (a AttributeValue) RawUint() uint64 {
	var v uint64
	for i := 5; i >= 0; i-- {
		v = (v << 8) | uint64(a.Raw[i])
	}
	return v
}

// SameRaw reports whether two raw values are byte-identical.
func (a AttributeValue) SameRaw(b AttributeValue) bool { return a.Raw == b.Raw }

// AttributeTable is a device's full set of SMART attribute slots, keyed
// by attribute id. Id 0 is never present (spec.md §3 invariant).
type AttributeTable map[int]AttributeValue

// ThresholdTable maps attribute id to its failure threshold.
type ThresholdTable map[int]int

// DeviceState is the mutable, per-cycle-accumulated state for one device.
// It is only ever touched by the goroutine running that device's checks.
type DeviceState struct {
	SmartVal   AttributeTable
	SmartThres ThresholdTable
	HaveCache  bool // false until the first successful ReadValues

	SelfLogCount int
	SelfLogHour  int
	AtaErrorCount int

	Temperature int
	TempMin     int
	TempMax     int
	TempMinInc  int // startup warm-up countdown, see §4.6.1

	PowerSkipCnt int

	SmartPageSupported bool
	TempPageSupported  bool
	SuppressReport     bool
	ModeSenseLen       int // SCSI-specific

	HealthUnsupported bool // smartcheck reported UNSUPPORTED; retry permitted
}

// NewDeviceState returns a zero-value state ready for registration.
func NewDeviceState() *DeviceState {
	return &DeviceState{SmartVal: AttributeTable{}, SmartThres: ThresholdTable{}}
}

// Entry bundles one device's immutable-after-registration configuration
// with its mutable state, mirroring spec.md §2's "flat list of
// DeviceConfig + DeviceState pairs indexed positionally."
type Entry struct {
	Config *DeviceConfig
	State  *DeviceState
}
