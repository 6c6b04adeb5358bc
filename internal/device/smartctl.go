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

package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"gitlab.clyso.com/clyso/smartd/internal/smartdcfg"
)

// smartctlDevice is the production Device: every primitive is one
// smartctl invocation with a specific flag combination, decoded from its
// -j JSON output, the way the teacher's smartctlhelper.go execs and
// parses smartctl.
type smartctlDevice struct {
	path     string
	devType  smartdcfg.DevType
	lastInfo smartctlOutput
}

// NewSmartctlDevice returns a Device backed by the real smartctl binary.
// devType may be smartdcfg.DevTypeAuto to let smartctl pick.
func NewSmartctlDevice(path string, devType smartdcfg.DevType) Device {
	return &smartctlDevice{path: path, devType: devType}
}

// DiscoverDevices runs `smartctl --scan-open -j` and returns smartctl's
// record (name, type, protocol) for each discovered device; the daemon's
// DEVICESCAN expansion builds one DeviceConfig per record.
func DiscoverDevices(ctx context.Context) ([]smartctlScanDevice, error) {
	out, err := runSmartctl(ctx, "--scan-open", "-j")
	if err != nil {
		return nil, fmt.Errorf("smartctl --scan-open: %w", err)
	}
	var scan smartctlScanOutput
	if err := json.Unmarshal(out, &scan); err != nil {
		return nil, fmt.Errorf("smartctl --scan-open: decode json: %w", err)
	}
	return scan.Devices, nil
}

func CheckSmartctlInstalled() bool {
	_, err := exec.LookPath("smartctl")
	return err == nil
}

func runSmartctl(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "smartctl", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	// smartctl's exit status is a bitmask of conditions, several of which
	// (SMART failure predicted, error log nonempty, ...) are not command
	// failures at all — only treat "didn't run"/"bad command line" (no
	// output at all) as a real execution error.
	if err != nil && stdout.Len() == 0 {
		return nil, fmt.Errorf("%v: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func (d *smartctlDevice) Path() string { return d.path }

func (d *smartctlDevice) Open(ctx context.Context) error {
	out, err := runSmartctl(ctx, "--json", "--info", "--health", "--attributes",
		"--tolerance=verypermissive", "--nocheck=standby", "--format=brief",
		"--log=error", "--log=selftest", d.path)
	if err != nil {
		return err
	}
	var parsed smartctlOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return fmt.Errorf("smartctl: decode json: %w", err)
	}
	d.lastInfo = parsed
	return nil
}

func (d *smartctlDevice) Close() error { return nil }

func (d *smartctlDevice) AutodetectOpen(ctx context.Context) (Device, bool, error) {
	if err := d.Open(ctx); err != nil {
		return nil, false, err
	}
	reported := smartdcfg.DevType(strings.ToLower(d.lastInfo.Device.Type))
	if d.devType != smartdcfg.DevTypeAuto && reported != "" && reported != d.devType {
		replacement := &smartctlDevice{path: d.path, devType: reported, lastInfo: d.lastInfo}
		return replacement, true, nil
	}
	return d, false, nil
}

func (d *smartctlDevice) Identify(ctx context.Context) (IdentifyInfo, error) {
	if err := d.Open(ctx); err != nil {
		return IdentifyInfo{}, err
	}
	return IdentifyInfo{
		Model:          d.lastInfo.ModelName,
		Serial:         d.lastInfo.SerialNumber,
		Firmware:       d.lastInfo.FirmwareVer,
		RotationRPM:    d.lastInfo.RotationRate,
		SmartSupported: d.lastInfo.SmartSupport.Available,
		SmartEnabled:   d.lastInfo.SmartSupport.Enabled,
	}, nil
}

func (d *smartctlDevice) SmartEnable(ctx context.Context) error {
	_, err := runSmartctl(ctx, "--smart=on", d.path)
	return err
}

func (d *smartctlDevice) SmartStatus(ctx context.Context) (HealthStatus, error) {
	if err := d.Open(ctx); err != nil {
		return HealthOK, err
	}
	if d.lastInfo.SmartStatus == nil {
		return HealthUnsupported, nil
	}
	if d.lastInfo.SmartStatus.Passed {
		return HealthOK, nil
	}
	return HealthFailed, nil
}

func (d *smartctlDevice) ReadValues(ctx context.Context) (smartdcfg.AttributeTable, error) {
	if err := d.Open(ctx); err != nil {
		return nil, err
	}
	table := smartdcfg.AttributeTable{}
	if d.lastInfo.ATASmartAttrs == nil {
		return table, ErrUnsupported
	}
	for _, e := range d.lastInfo.ATASmartAttrs.Table {
		if e.ID == 0 {
			continue
		}
		var raw [6]byte
		v := e.Raw.Value
		for i := 0; i < 6; i++ {
			raw[i] = byte(v & 0xFF)
			v >>= 8
		}
		table[e.ID] = smartdcfg.AttributeValue{
			ID:      e.ID,
			Value:   e.Value,
			Worst:   e.Worst,
			Raw:     raw,
			Prefail: e.Flags.Prefailure,
		}
	}
	return table, nil
}

func (d *smartctlDevice) ReadThresholds(ctx context.Context) (smartdcfg.ThresholdTable, error) {
	if err := d.Open(ctx); err != nil {
		return nil, err
	}
	table := smartdcfg.ThresholdTable{}
	if d.lastInfo.ATASmartAttrs == nil {
		return table, ErrUnsupported
	}
	for _, e := range d.lastInfo.ATASmartAttrs.Table {
		if e.ID == 0 {
			continue
		}
		table[e.ID] = e.Thresh
	}
	return table, nil
}

func (d *smartctlDevice) ReadErrorLog(ctx context.Context) (ErrorLogSummary, error) {
	if err := d.Open(ctx); err != nil {
		return ErrorLogSummary{}, err
	}
	if d.lastInfo.ATAErrorLog == nil {
		return ErrorLogSummary{}, ErrUnsupported
	}
	return ErrorLogSummary{Count: d.lastInfo.ATAErrorLog.Summary.Count}, nil
}

func (d *smartctlDevice) ReadSelfTestLog(ctx context.Context) (SelfTestLogSummary, error) {
	if err := d.Open(ctx); err != nil {
		return SelfTestLogSummary{}, err
	}
	if d.lastInfo.ATASelfTest == nil {
		return SelfTestLogSummary{}, ErrUnsupported
	}
	lastHour := 0
	if n := len(d.lastInfo.ATASelfTest.Table); n > 0 {
		lastHour = d.lastInfo.ATASelfTest.Table[0].LifetimeHours
	}
	return SelfTestLogSummary{Count: d.lastInfo.ATASelfTest.Count, LastHour: lastHour}, nil
}

func (d *smartctlDevice) CheckPowerMode(ctx context.Context) (PowerMode, error) {
	out, err := runSmartctl(ctx, "-n", "standby", "--json", d.path)
	if err != nil {
		return PowerUnknown, err
	}
	var parsed smartctlOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return PowerUnknown, fmt.Errorf("smartctl: decode json: %w", err)
	}
	return PowerActive, nil
}

func (d *smartctlDevice) SetAutosave(ctx context.Context, enable bool) error {
	arg := "--smart=on"
	if enable {
		arg = "-S on"
	} else {
		arg = "-S off"
	}
	_, err := runSmartctl(ctx, arg, d.path)
	return err
}

func (d *smartctlDevice) SetAutoOfflineTest(ctx context.Context, enable bool) error {
	arg := "-o off"
	if enable {
		arg = "-o on"
	}
	_, err := runSmartctl(ctx, arg, d.path)
	return err
}

func (d *smartctlDevice) LaunchSelfTest(ctx context.Context, letter SelfTestLetter) error {
	var testName string
	switch letter {
	case TestLong:
		testName = "long"
	case TestShort:
		testName = "short"
	case TestConveyance:
		testName = "conveyance"
	case TestOfflineImm:
		testName = "offline"
	default:
		return fmt.Errorf("unknown self-test letter %q", rune(letter))
	}
	_, err := runSmartctl(ctx, "-t", testName, d.path)
	return err
}

// SCSI primitives. None of them checks the device type: TestUnitReady
// reports ReadyOK whenever smartctl produces output, and
// InformationalExceptions returns only smartctl's current/trip
// temperature (ASC/ASCQ stay 0). FetchIECModePage, SupportedLogPages,
// CountFailedSelfTests and SetGLTSD always return ErrUnsupported.

func (d *smartctlDevice) TestUnitReady(ctx context.Context) (ReadyStatus, error) {
	if _, err := runSmartctl(ctx, "-i", "-n", "standby", d.path); err != nil {
		return ReadyFailed, err
	}
	return ReadyOK, nil
}

func (d *smartctlDevice) FetchIECModePage(ctx context.Context) (IECModePage, error) {
	if err := d.Open(ctx); err != nil {
		return IECModePage{}, err
	}
	return IECModePage{}, ErrUnsupported
}

func (d *smartctlDevice) SupportedLogPages(ctx context.Context) (map[int]bool, error) {
	return nil, ErrUnsupported
}

func (d *smartctlDevice) InformationalExceptions(ctx context.Context) (IEResult, error) {
	if err := d.Open(ctx); err != nil {
		return IEResult{}, err
	}
	return IEResult{
		CurrentTemp: d.lastInfo.Temperature.Current,
		TripTemp:    d.lastInfo.Temperature.DriveTrip,
	}, nil
}

func (d *smartctlDevice) CountFailedSelfTests(ctx context.Context) (int, error) {
	return 0, ErrUnsupported
}

func (d *smartctlDevice) SetGLTSD(ctx context.Context, enable bool) error {
	return ErrUnsupported
}
