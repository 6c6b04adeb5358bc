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
	"context"

	"gitlab.clyso.com/clyso/smartd/internal/smartdcfg"
)

// Cycle is one scripted snapshot a FakeDevice plays back on a given
// Open() call. Leaving a field at its zero value makes the matching
// primitive return that zero value with a nil error.
type Cycle struct {
	Health       HealthStatus
	HealthErr    error
	Values       smartdcfg.AttributeTable
	ValuesErr    error
	Thresholds   smartdcfg.ThresholdTable
	ErrorLog     ErrorLogSummary
	ErrorLogErr  error
	SelfTestLog  SelfTestLogSummary
	SelfTestErr  error
	PowerMode    PowerMode
	PowerModeErr error
	OpenErr      error
	IE           IEResult
	Ready        ReadyStatus
}

// FakeDevice is the scripted test double every C5/C6/C7 test drives
// instead of real hardware, per spec.md §9's testability design note:
// "make the probe function observable in tests via a scripted fake
// device."
type FakeDevice struct {
	DevPath string
	Info    IdentifyInfo
	Cycles  []Cycle
	cursor  int

	SelfTestLaunches []SelfTestLetter
	SelfTestBusy     bool
	Closed           int
}

var _ Device = (*FakeDevice)(nil)

func NewFakeDevice(path string, cycles ...Cycle) *FakeDevice {
	return &FakeDevice{DevPath: path, Cycles: cycles}
}

func (f *FakeDevice) current() Cycle {
	if len(f.Cycles) == 0 {
		return Cycle{}
	}
	idx := f.cursor
	if idx >= len(f.Cycles) {
		idx = len(f.Cycles) - 1
	}
	return f.Cycles[idx]
}

func (f *FakeDevice) Path() string { return f.DevPath }

func (f *FakeDevice) Open(ctx context.Context) error {
	if err := f.current().OpenErr; err != nil {
		return err
	}
	return nil
}

// Advance moves the script to the next cycle; the check engine's caller
// (tests) invokes this between simulated polling cycles.
func (f *FakeDevice) Advance() {
	if f.cursor < len(f.Cycles)-1 {
		f.cursor++
	}
}

func (f *FakeDevice) Close() error {
	f.Closed++
	return nil
}

func (f *FakeDevice) AutodetectOpen(ctx context.Context) (Device, bool, error) {
	return f, false, f.Open(ctx)
}

func (f *FakeDevice) Identify(ctx context.Context) (IdentifyInfo, error) {
	return f.Info, f.Open(ctx)
}

func (f *FakeDevice) SmartEnable(ctx context.Context) error { return nil }

func (f *FakeDevice) SmartStatus(ctx context.Context) (HealthStatus, error) {
	c := f.current()
	return c.Health, c.HealthErr
}

func (f *FakeDevice) ReadValues(ctx context.Context) (smartdcfg.AttributeTable, error) {
	c := f.current()
	return c.Values, c.ValuesErr
}

func (f *FakeDevice) ReadThresholds(ctx context.Context) (smartdcfg.ThresholdTable, error) {
	return f.current().Thresholds, nil
}

func (f *FakeDevice) ReadErrorLog(ctx context.Context) (ErrorLogSummary, error) {
	c := f.current()
	return c.ErrorLog, c.ErrorLogErr
}

func (f *FakeDevice) ReadSelfTestLog(ctx context.Context) (SelfTestLogSummary, error) {
	c := f.current()
	return c.SelfTestLog, c.SelfTestErr
}

func (f *FakeDevice) CheckPowerMode(ctx context.Context) (PowerMode, error) {
	c := f.current()
	return c.PowerMode, c.PowerModeErr
}

func (f *FakeDevice) SetAutosave(ctx context.Context, enable bool) error        { return nil }
func (f *FakeDevice) SetAutoOfflineTest(ctx context.Context, enable bool) error { return nil }

func (f *FakeDevice) LaunchSelfTest(ctx context.Context, letter SelfTestLetter) error {
	if f.SelfTestBusy {
		return ErrSelfTestBusy
	}
	f.SelfTestLaunches = append(f.SelfTestLaunches, letter)
	return nil
}

func (f *FakeDevice) TestUnitReady(ctx context.Context) (ReadyStatus, error) {
	return f.current().Ready, nil
}

func (f *FakeDevice) FetchIECModePage(ctx context.Context) (IECModePage, error) {
	return IECModePage{ModeSenseLen: 10, ExceptionControlOn: true}, nil
}

func (f *FakeDevice) SupportedLogPages(ctx context.Context) (map[int]bool, error) {
	return map[int]bool{0x2f: true, 0x0d: true}, nil
}

func (f *FakeDevice) InformationalExceptions(ctx context.Context) (IEResult, error) {
	return f.current().IE, nil
}

func (f *FakeDevice) CountFailedSelfTests(ctx context.Context) (int, error) {
	return f.current().SelfTestLog.Count, nil
}

func (f *FakeDevice) SetGLTSD(ctx context.Context, enable bool) error { return nil }
