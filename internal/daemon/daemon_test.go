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

package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.clyso.com/clyso/smartd/internal/checkengine"
	"gitlab.clyso.com/clyso/smartd/internal/device"
	"gitlab.clyso.com/clyso/smartd/internal/smartdcfg"
)

func noopOpenDev(ctx context.Context, cfg *smartdcfg.DeviceConfig) device.Device {
	return device.NewFakeDevice(cfg.Name, device.Cycle{Health: device.HealthOK})
}

func TestRunReturnsErrorWhenNoDevicesAndQuitModeNodev(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "smartd.conf")
	require.NoError(t, os.WriteFile(cfgPath, []byte("# empty\n"), 0644))

	d := New(Options{ConfigPath: cfgPath, QuitMode: QuitNodev, CheckTime: time.Second}, checkengine.New(nil, nil), noopOpenDev)
	err := d.Run(context.Background())
	assert.Error(t, err)
}

func TestRunOnecheckQuitModeToleratesNoDevicesAndReturns(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "smartd.conf")
	require.NoError(t, os.WriteFile(cfgPath, []byte("# empty\n"), 0644))

	d := New(Options{ConfigPath: cfgPath, QuitMode: QuitOnecheck, CheckTime: time.Millisecond}, checkengine.New(nil, nil), noopOpenDev)
	err := d.Run(context.Background())
	assert.NoError(t, err)
}

func TestRunQuitErrorsPropagatesParseFailure(t *testing.T) {
	d := New(Options{ConfigPath: "/nonexistent/smartd.conf", QuitMode: QuitErrors, CheckTime: time.Second}, checkengine.New(nil, nil), noopOpenDev)
	err := d.Run(context.Background())
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, ExitNoConfig, exitErr.Code)
}

func TestRunStartupParseFailureAbortsRegardlessOfQuitMode(t *testing.T) {
	// A startup config-parse failure is fatal even under quit modes
	// that otherwise tolerate a zero-device registration (spec.md §7).
	d := New(Options{ConfigPath: "/nonexistent/smartd.conf", QuitMode: QuitNever, CheckTime: time.Second}, checkengine.New(nil, nil), noopOpenDev)
	err := d.Run(context.Background())
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, ExitNoConfig, exitErr.Code)
}

func TestRunMissingDevicesExitCode(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "smartd.conf")
	require.NoError(t, os.WriteFile(cfgPath, []byte("# empty\n"), 0644))

	d := New(Options{ConfigPath: cfgPath, QuitMode: QuitNodev, CheckTime: time.Second}, checkengine.New(nil, nil), noopOpenDev)
	err := d.Run(context.Background())
	require.Error(t, err)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, ExitNoDevice, exitErr.Code)
}

func TestSleepUntilReturnsWhenPollNowRequested(t *testing.T) {
	d := New(Options{CheckTime: time.Second}, checkengine.New(nil, nil), noopOpenDev)
	d.signals = newSignalState(false)
	atomic.StoreInt32(&d.signals.pollNow, 1)

	start := time.Now()
	d.sleepUntil(start.Add(time.Hour))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.False(t, d.signals.pollNowRequested())
}

func TestSleepUntilReturnsWhenExitRequested(t *testing.T) {
	d := New(Options{CheckTime: time.Second}, checkengine.New(nil, nil), noopOpenDev)
	d.signals = newSignalState(false)
	atomic.StoreInt32(&d.signals.exit, 1)

	start := time.Now()
	d.sleepUntil(start.Add(time.Hour))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestSleepUntilReturnsAtDeadlineWithNoSignals(t *testing.T) {
	d := New(Options{CheckTime: time.Second}, checkengine.New(nil, nil), noopOpenDev)
	d.signals = newSignalState(false)

	start := time.Now()
	d.sleepUntil(start.Add(50 * time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestNewSeedsSignalDebugFlagFromOptions(t *testing.T) {
	d := New(Options{CheckTime: time.Second, Debug: true}, checkengine.New(nil, nil), noopOpenDev)
	assert.Equal(t, int32(1), d.signals.debug)

	d2 := New(Options{CheckTime: time.Second, Debug: false}, checkengine.New(nil, nil), noopOpenDev)
	assert.Equal(t, int32(0), d2.signals.debug)
}

func TestSignalStateSIGINTTogglesByDebugFlag(t *testing.T) {
	s := newSignalState(false)
	atomic.StoreInt32(&s.debug, 0)
	assert.False(t, s.reloadRequested())

	atomic.StoreInt32(&s.debug, 1)
	if atomic.LoadInt32(&s.debug) == 1 {
		atomic.StoreInt32(&s.reload, 1)
	} else {
		atomic.StoreInt32(&s.exit, 1)
	}
	assert.True(t, s.reloadRequested())
	assert.False(t, s.exitRequested())
}

func TestCleanExitClassifiesBySignal(t *testing.T) {
	s := newSignalState(false)
	atomic.StoreInt32(&s.exitSignal, int32(syscall.SIGTERM))
	assert.True(t, s.cleanExit())

	atomic.StoreInt32(&s.exitSignal, int32(syscall.SIGQUIT))
	assert.False(t, s.cleanExit(), "SIGQUIT outside debug mode is not a clean exit")

	s2 := newSignalState(true)
	atomic.StoreInt32(&s2.exitSignal, int32(syscall.SIGQUIT))
	assert.True(t, s2.cleanExit(), "SIGQUIT in debug mode is a clean exit")

	s3 := newSignalState(false)
	atomic.StoreInt32(&s3.exitSignal, int32(syscall.SIGINT))
	assert.False(t, s3.cleanExit(), "a non-debug SIGINT exit is never clean")
}

func TestExitResultReturnsCaughtSignalErrorForSIGINT(t *testing.T) {
	d := New(Options{CheckTime: time.Second}, checkengine.New(nil, nil), noopOpenDev)
	d.signals = newSignalState(false)
	atomic.StoreInt32(&d.signals.exitSignal, int32(syscall.SIGINT))

	err := d.exitResult()
	require.Error(t, err)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, ExitCaughtSignal, exitErr.Code)
}

func TestExitResultReturnsNilForSIGTERM(t *testing.T) {
	d := New(Options{CheckTime: time.Second}, checkengine.New(nil, nil), noopOpenDev)
	d.signals = newSignalState(false)
	atomic.StoreInt32(&d.signals.exitSignal, int32(syscall.SIGTERM))

	assert.NoError(t, d.exitResult())
}

func TestWritePidFileThenRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "smartd.pid")

	require.NoError(t, writePidFile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), mustAtoi(t, string(data)))

	require.NoError(t, removePidFile(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestRemovePidFileIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "smartd.pid")
	assert.NoError(t, removePidFile(path))
}

func TestWritePidFileNoopWhenPathEmpty(t *testing.T) {
	assert.NoError(t, writePidFile(""))
	assert.NoError(t, removePidFile(""))
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	s = s[:len(s)-1] // strip trailing newline
	var n int
	for _, c := range s {
		require.True(t, c >= '0' && c <= '9')
		n = n*10 + int(c-'0')
	}
	return n
}
