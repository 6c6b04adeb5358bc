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

// Package daemon implements the main loop and signal control (C8): it
// drives C3/C5 on startup and reload, then alternates sleeping with a
// check-engine pass over every registered device, per spec.md §4.8.
package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"gitlab.clyso.com/clyso/smartd/internal/checkengine"
	"gitlab.clyso.com/clyso/smartd/internal/device"
	"gitlab.clyso.com/clyso/smartd/internal/registration"
	"gitlab.clyso.com/clyso/smartd/internal/selftest"
	"gitlab.clyso.com/clyso/smartd/internal/smartdcfg"
)

// QuitMode controls what happens when zero devices survive registration,
// and a few special one-shot run modes, per the `-q` flag (spec.md §6).
type QuitMode string

const (
	QuitNodev          QuitMode = "nodev"
	QuitNodevStartup   QuitMode = "nodevstartup"
	QuitNever          QuitMode = "never"
	QuitOnecheck       QuitMode = "onecheck"
	QuitShowtests      QuitMode = "showtests"
	QuitErrors         QuitMode = "errors"
)

// Options bundles the CLI-derived settings the loop needs. The CLI
// option parser itself (pkg/commands) is out of this component's scope
// (spec.md §1's "deliberately out of scope" list); this struct is the
// seam between that parser and the loop.
type Options struct {
	ConfigPath string
	Debug      bool
	CheckTime  time.Duration
	QuitMode   QuitMode
	PidFile    string
}

// Daemon owns one run of the monitoring loop: the entry list, the check
// engine, and the cooperative signal-control state machine.
type Daemon struct {
	Opts    Options
	Engine  *checkengine.Engine
	OpenDev func(ctx context.Context, cfg *smartdcfg.DeviceConfig) device.Device

	entries []*smartdcfg.Entry

	signals *signalState
}

// New wires a Daemon around an already-constructed check engine.
// OpenDev lets tests substitute FakeDevice construction; production
// callers pass a closure around device.NewSmartctlDevice.
func New(opts Options, engine *checkengine.Engine, openDev func(ctx context.Context, cfg *smartdcfg.DeviceConfig) device.Device) *Daemon {
	return &Daemon{Opts: opts, Engine: engine, OpenDev: openDev, signals: newSignalState(opts.Debug)}
}

// LoadAndRegister runs C3 (parse) then C5 (register) for every entry in
// the config file, including DEVICESCAN expansion via device discovery.
// Parsing and registration never touch the daemon's live entry list
// directly, so a reload can be fully validated before it takes effect
// (spec.md §4.2).
func (d *Daemon) LoadAndRegister(ctx context.Context) ([]*smartdcfg.Entry, error) {
	result, err := smartdcfg.ParseFile(d.Opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var configs []*smartdcfg.DeviceConfig
	switch result.Outcome {
	case smartdcfg.OutcomeScanTemplate:
		configs, err = d.expandScan(ctx, result.Template)
		if err != nil {
			return nil, fmt.Errorf("device scan: %w", err)
		}
	case smartdcfg.OutcomeEntries:
		configs = result.Entries
	}

	var entries []*smartdcfg.Entry
	for _, cfg := range configs {
		state := smartdcfg.NewDeviceState()
		dev := d.OpenDev(ctx, cfg)
		res := registration.Register(ctx, dev, cfg, state, cfg.LineNo == 0, d.Opts.CheckTime)
		if res.Outcome != registration.Registered {
			continue
		}
		entries = append(entries, &smartdcfg.Entry{Config: cfg, State: state})
	}
	return entries, nil
}

// expandScan synthesizes one DeviceConfig per discovered device from the
// DEVICESCAN template, per spec.md §4.3.
func (d *Daemon) expandScan(ctx context.Context, template *smartdcfg.DeviceConfig) ([]*smartdcfg.DeviceConfig, error) {
	scanned, err := device.DiscoverDevices(ctx)
	if err != nil {
		return nil, err
	}
	var configs []*smartdcfg.DeviceConfig
	for _, s := range scanned {
		cfg := *template
		cfg.Name = s.Name
		cfg.LineNo = 0
		switch s.Type {
		case "scsi":
			cfg.DevType = smartdcfg.DevTypeSCSI
		case "sat":
			cfg.DevType = smartdcfg.DevTypeSAT
		default:
			cfg.DevType = smartdcfg.DevTypeATA
		}
		configs = append(configs, &cfg)
	}
	return configs, nil
}

// Run executes the full main loop: initial load/register, then an
// alternation of signal servicing, per-device checks, and interruptible
// sleep, per spec.md §4.8's loop skeleton.
func (d *Daemon) Run(ctx context.Context) error {
	entries, err := d.LoadAndRegister(ctx)
	if err != nil {
		// A startup config-parse/registration failure aborts the
		// daemon unconditionally: -q errors governs reload failures
		// below, not this one (spec.md §7).
		return classifyLoadError(err)
	}
	d.entries = entries

	if len(d.entries) == 0 && (d.Opts.QuitMode == QuitNodev || d.Opts.QuitMode == QuitNodevStartup || d.Opts.QuitMode == "") {
		return exitErrorf(ExitNoDevice, "no devices registered, quit mode %q", d.Opts.QuitMode)
	}

	if d.Opts.QuitMode == QuitShowtests {
		d.printSchedule()
		return nil
	}

	if err := writePidFile(d.Opts.PidFile); err != nil {
		log.Error().Err(err).Str("path", d.Opts.PidFile).Msg("failed to write PID file")
		return exitErrorf(ExitPidFileFailure, "write pid file %s: %w", d.Opts.PidFile, err)
	}
	defer func() {
		if err := removePidFile(d.Opts.PidFile); err != nil {
			log.Error().Err(err).Str("path", d.Opts.PidFile).Msg("failed to remove PID file")
		}
	}()

	d.signals.install()
	defer d.signals.stop()

	wakeuptime := time.Now().Add(d.Opts.CheckTime)
	for {
		if d.signals.exitRequested() {
			return d.exitResult()
		}
		if d.signals.reloadRequested() {
			log.Info().Msg("reload requested; re-parsing configuration")
			fresh, err := d.LoadAndRegister(ctx)
			if err != nil {
				if d.Opts.QuitMode == QuitErrors {
					return classifyLoadError(err)
				}
				log.Error().Err(err).Msg("reload failed; keeping previous configuration")
			} else {
				d.entries = fresh
			}
			d.signals.clearReload()
		}

		for _, entry := range d.entries {
			dev := d.OpenDev(ctx, entry.Config)
			d.Engine.Run(ctx, dev, entry.Config, entry.State)
			if d.signals.exitRequested() {
				return d.exitResult()
			}
		}

		if d.Opts.QuitMode == QuitOnecheck {
			return nil
		}

		now := time.Now()
		if wakeuptime.Sub(now) > d.Opts.CheckTime {
			log.Error().Msg("wall clock moved backwards past one check interval; resetting wake time")
			wakeuptime = now.Add(d.Opts.CheckTime)
		}
		d.sleepUntil(wakeuptime)
		wakeuptime = time.Now().Add(d.Opts.CheckTime)
	}
}

// exitResult turns a pending exit signal into the return value for Run:
// nil for a clean shutdown (TERM, or QUIT/INT under the rules cleanExit
// applies), an ExitCaughtSignal error otherwise (spec.md §6).
func (d *Daemon) exitResult() error {
	if !d.signals.cleanExit() {
		log.Error().Msg("smartd terminated by signal")
		return exitErrorf(ExitCaughtSignal, "terminated by signal")
	}
	log.Info().Msg("exit signal received; shutting down")
	return nil
}

// sleepUntil blocks until deadline, waking early on poll-now or exit
// signals, per spec.md §5's "sleep must be interruptible."
func (d *Daemon) sleepUntil(deadline time.Time) {
	const tick = time.Second
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		if d.signals.pollNowRequested() {
			d.signals.clearPollNow()
			return
		}
		if d.signals.exitRequested() || d.signals.reloadRequested() {
			return
		}
		wait := tick
		if remaining < wait {
			wait = remaining
		}
		time.Sleep(wait)
	}
}

func (d *Daemon) printSchedule() {
	now := time.Now()
	for _, entry := range d.entries {
		if !entry.Config.Selftest {
			continue
		}
		schedule := selftest.PreviewSchedule(entry.Config, now, d.Opts.CheckTime)
		for letter, times := range schedule {
			for _, t := range times {
				fmt.Printf("%s: %c scheduled at %s\n", entry.Config.Name, letter, t.Format(time.RFC3339))
			}
		}
	}
}
