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

package registration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.clyso.com/clyso/smartd/internal/device"
	"gitlab.clyso.com/clyso/smartd/internal/smartdcfg"
)

func newCfg(name string) *smartdcfg.DeviceConfig {
	return &smartdcfg.DeviceConfig{
		Name:         name,
		Smartcheck:   true,
		MonitorFlags: smartdcfg.NewAttributeMonitorFlags(),
		Pending:      smartdcfg.PendingSectors{CurrentPendingID: 197, OfflineUncorrectableID: 198},
	}
}

func TestRegisterATASuccess(t *testing.T) {
	fd := device.NewFakeDevice("/dev/sda", device.Cycle{
		Health: device.HealthOK,
		Values: smartdcfg.AttributeTable{
			197: {ID: 197, Value: 100},
			198: {ID: 198, Value: 100},
			194: {ID: 194, Value: 40},
		},
	})
	fd.Info = device.IdentifyInfo{Model: "TestDrive", SmartSupported: true, SmartEnabled: true}

	cfg := newCfg("/dev/sda")
	cfg.TempDiff = 2
	state := smartdcfg.NewDeviceState()

	res := Register(context.Background(), fd, cfg, state, false, smartdcfg.DefaultCheckTime)
	require.Equal(t, Registered, res.Outcome)
	assert.True(t, cfg.Smartcheck)
	assert.Equal(t, 197, cfg.Pending.CurrentPendingID)
	assert.True(t, state.HaveCache)
}

func TestRegisterATADropsUnsupportedPending(t *testing.T) {
	fd := device.NewFakeDevice("/dev/sda", device.Cycle{
		Health: device.HealthOK,
		Values: smartdcfg.AttributeTable{
			5: {ID: 5, Value: 100},
		},
	})
	fd.Info = device.IdentifyInfo{Model: "TestDrive", SmartSupported: true, SmartEnabled: true}

	cfg := newCfg("/dev/sda")
	state := smartdcfg.NewDeviceState()

	res := Register(context.Background(), fd, cfg, state, false, smartdcfg.DefaultCheckTime)
	require.Equal(t, Registered, res.Outcome)
	assert.Equal(t, smartdcfg.NoMonitorAttribute, cfg.Pending.CurrentPendingID)
	assert.Equal(t, smartdcfg.NoMonitorAttribute, cfg.Pending.OfflineUncorrectableID)
}

func TestRegisterATANotPermissiveRejected(t *testing.T) {
	fd := device.NewFakeDevice("/dev/sda", device.Cycle{Health: device.HealthOK})
	fd.Info = device.IdentifyInfo{Model: "NoSmart", SmartSupported: false}

	cfg := newCfg("/dev/sda")
	state := smartdcfg.NewDeviceState()

	res := Register(context.Background(), fd, cfg, state, false, smartdcfg.DefaultCheckTime)
	assert.Equal(t, Rejected, res.Outcome)
}

func TestRegisterATAPermissiveAllowsNoSmart(t *testing.T) {
	fd := device.NewFakeDevice("/dev/sda", device.Cycle{Health: device.HealthOK})
	fd.Info = device.IdentifyInfo{Model: "NoSmart", SmartSupported: false}

	cfg := newCfg("/dev/sda")
	cfg.Permissive = true
	state := smartdcfg.NewDeviceState()

	res := Register(context.Background(), fd, cfg, state, false, smartdcfg.DefaultCheckTime)
	assert.Equal(t, Registered, res.Outcome)
}

func TestRegisterSCSINotReadySkipped(t *testing.T) {
	fd := device.NewFakeDevice("/dev/sdb", device.Cycle{Ready: device.ReadyNotReady})
	cfg := newCfg("/dev/sdb")
	cfg.DevType = smartdcfg.DevTypeSCSI
	state := smartdcfg.NewDeviceState()

	res := Register(context.Background(), fd, cfg, state, true, smartdcfg.DefaultCheckTime)
	assert.Equal(t, Rejected, res.Outcome)
}

func TestRegisterATASeedsSelfTestAndErrorLogBaselines(t *testing.T) {
	fd := device.NewFakeDevice("/dev/sda", device.Cycle{
		Health:      device.HealthOK,
		SelfTestLog: device.SelfTestLogSummary{Count: 3, LastHour: 42},
		ErrorLog:    device.ErrorLogSummary{Count: 7},
	})
	fd.Info = device.IdentifyInfo{Model: "TestDrive", SmartSupported: true, SmartEnabled: true}

	cfg := newCfg("/dev/sda")
	cfg.Selftest = true
	cfg.Errorlog = true
	state := smartdcfg.NewDeviceState()

	res := Register(context.Background(), fd, cfg, state, false, smartdcfg.DefaultCheckTime)
	require.Equal(t, Registered, res.Outcome)
	assert.Equal(t, 3, state.SelfLogCount)
	assert.Equal(t, 42, state.SelfLogHour)
	assert.Equal(t, 7, state.AtaErrorCount)
}

func TestRegisterSeedsTemperatureWarmupCountdown(t *testing.T) {
	fd := device.NewFakeDevice("/dev/sda", device.Cycle{Health: device.HealthOK})
	fd.Info = device.IdentifyInfo{Model: "TestDrive", SmartSupported: true, SmartEnabled: true}

	cfg := newCfg("/dev/sda")
	state := smartdcfg.NewDeviceState()

	res := Register(context.Background(), fd, cfg, state, false, smartdcfg.DefaultCheckTime/3)
	require.Equal(t, Registered, res.Outcome)
	assert.Equal(t, 3, state.TempMinInc)
}

func TestRegisterSeedsTemperatureWarmupCountdownForcedToOne(t *testing.T) {
	fd := device.NewFakeDevice("/dev/sda", device.Cycle{Health: device.HealthOK})
	fd.Info = device.IdentifyInfo{Model: "TestDrive", SmartSupported: true, SmartEnabled: true}

	cfg := newCfg("/dev/sda")
	state := smartdcfg.NewDeviceState()

	res := Register(context.Background(), fd, cfg, state, false, smartdcfg.DefaultCheckTime*2)
	require.Equal(t, Registered, res.Outcome)
	assert.Equal(t, 1, state.TempMinInc)
}

func TestRegisterSCSISuccess(t *testing.T) {
	fd := device.NewFakeDevice("/dev/sdb", device.Cycle{
		Ready: device.ReadyOK,
		IE:    device.IEResult{CurrentTemp: 35, TripTemp: 60},
	})
	cfg := newCfg("/dev/sdb")
	cfg.DevType = smartdcfg.DevTypeSCSI
	state := smartdcfg.NewDeviceState()

	res := Register(context.Background(), fd, cfg, state, false, smartdcfg.DefaultCheckTime)
	require.Equal(t, Registered, res.Outcome)
	assert.False(t, state.SuppressReport)
}
