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

// Package device abstracts the SMART primitives a registration probe and
// the check engine need, per spec.md §6. The concrete implementation
// shells out to smartctl -j (device/smartctl.go); FakeDevice
// (device/fake.go) scripts canned responses for every other package's
// tests, so none of them touch real hardware.
package device

import (
	"context"
	"errors"

	"gitlab.clyso.com/clyso/smartd/internal/smartdcfg"
)

// ErrUnsupported is returned by a primitive the device does not
// implement at all (as opposed to a transient I/O failure). Registration
// treats it as "trim this check", never as a reason to abort.
var ErrUnsupported = errors.New("device: primitive not supported")

// HealthStatus is the discriminated result of the ATA SMART-status
// primitive (spec.md §4.6 step 5): a third outcome distinct from "I/O
// error", not a Go error.
type HealthStatus int

const (
	HealthOK HealthStatus = iota
	HealthFailed
	HealthUnsupported
)

func (h HealthStatus) String() string {
	switch h {
	case HealthOK:
		return "OK"
	case HealthFailed:
		return "FAILED"
	case HealthUnsupported:
		return "UNSUPPORTED"
	default:
		return "UNKNOWN"
	}
}

// ReadyStatus is the discriminated result of the SCSI test-unit-ready
// primitive (spec.md §4.5 step 3).
type ReadyStatus int

const (
	ReadyOK ReadyStatus = iota
	ReadyNotReady
	ReadyNoMedium
	ReadyBecomingReady
	ReadyFailed
)

// PowerMode is the measured spindle state the check-power-mode primitive
// reports; the check engine compares it against the configured
// smartdcfg.PowerMode gate level.
type PowerMode int

const (
	PowerActive PowerMode = iota
	PowerIdle
	PowerStandby
	PowerSleep
	PowerUnknown // non-ATA-compliant value; the check engine disables power-mode gating
)

// SelfTestLetter identifies which self-test a launch/schedule call targets.
type SelfTestLetter byte

const (
	TestLong        SelfTestLetter = 'L'
	TestShort       SelfTestLetter = 'S'
	TestConveyance  SelfTestLetter = 'C'
	TestOfflineImm  SelfTestLetter = 'O'
)

// ErrSelfTestBusy is returned by a launch primitive when the device
// reports another self-test already in progress (status nibble 0xF in
// the self-test execution status byte), per spec.md §4.7.
var ErrSelfTestBusy = errors.New("device: self-test already in progress")

// IdentifyInfo is the subset of the ATA IDENTIFY page registration and
// identity enrichment need.
type IdentifyInfo struct {
	Model        string
	Serial       string
	Firmware     string
	RotationRPM  int // 0 for SSD/unknown
	SmartSupported bool
	SmartEnabled   bool
}

// ErrorLogSummary is the ATA SMART error log's error count, the only
// field the check engine compares cycle to cycle (spec.md §4.6 step 8).
type ErrorLogSummary struct {
	Count int
}

// SelfTestLogSummary is the ATA self-test log's count/hour-stamp pair
// (spec.md §4.6 step 7).
type SelfTestLogSummary struct {
	Count     int
	LastHour  int
}

// IECModePage is the SCSI Informational Exceptions Control mode page
// (spec.md §4.5 step 3).
type IECModePage struct {
	ModeSenseLen       int
	ExceptionControlOn bool
}

// IEResult is the SCSI Informational Exceptions log-sense result
// (spec.md §4.6, SCSI path): ASC/ASCQ plus the temperature pair it
// piggybacks.
type IEResult struct {
	ASC             int
	ASCQ            int
	CurrentTemp     int
	TripTemp        int
}

// Device is the uniform handle C1 exposes. Open is lazy (called once per
// cycle); Close is idempotent. AutodetectOpen may return a replacement
// handle when a nominally-SCSI target is actually ATA-via-SAT; the
// caller must adopt it and log the type change (spec.md §4.1).
type Device interface {
	Path() string
	Open(ctx context.Context) error
	Close() error
	AutodetectOpen(ctx context.Context) (Device, bool, error)

	// ATA primitives.
	Identify(ctx context.Context) (IdentifyInfo, error)
	SmartEnable(ctx context.Context) error
	SmartStatus(ctx context.Context) (HealthStatus, error)
	ReadValues(ctx context.Context) (smartdcfg.AttributeTable, error)
	ReadThresholds(ctx context.Context) (smartdcfg.ThresholdTable, error)
	ReadErrorLog(ctx context.Context) (ErrorLogSummary, error)
	ReadSelfTestLog(ctx context.Context) (SelfTestLogSummary, error)
	CheckPowerMode(ctx context.Context) (PowerMode, error)
	SetAutosave(ctx context.Context, enable bool) error
	SetAutoOfflineTest(ctx context.Context, enable bool) error
	LaunchSelfTest(ctx context.Context, letter SelfTestLetter) error

	// SCSI primitives.
	TestUnitReady(ctx context.Context) (ReadyStatus, error)
	FetchIECModePage(ctx context.Context) (IECModePage, error)
	SupportedLogPages(ctx context.Context) (map[int]bool, error)
	InformationalExceptions(ctx context.Context) (IEResult, error)
	CountFailedSelfTests(ctx context.Context) (int, error)
	SetGLTSD(ctx context.Context, enable bool) error
}
