// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and prysm contributors
//
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/host"

	"gitlab.clyso.com/clyso/smartd/internal/checkengine"
	"gitlab.clyso.com/clyso/smartd/internal/daemon"
	"gitlab.clyso.com/clyso/smartd/internal/device"
	"gitlab.clyso.com/clyso/smartd/internal/events"
	"gitlab.clyso.com/clyso/smartd/internal/metrics"
	"gitlab.clyso.com/clyso/smartd/internal/notifier"
	"gitlab.clyso.com/clyso/smartd/internal/runtimecfg"
	"gitlab.clyso.com/clyso/smartd/internal/smartdcfg"
)

// runID is a short per-process identifier attached to the startup
// host-identity log line, so that line from overlapping runs can be told
// apart in aggregated output.
var runID = uuid.New().String()[:8]

// buildDaemon wires a Daemon from the global flags, the way ctl.go wires
// its producer commands from persistent flags: device access via
// smartctl, the notifier with its optional NATS/Prometheus side
// channels, and the check engine atop both.
func buildDaemon(quitMode daemon.QuitMode) (*daemon.Daemon, func(), error) {
	hostname, _ := os.Hostname()
	if info, err := host.Info(); err == nil && info.Hostname != "" {
		hostname = info.Hostname
		log.Info().Str("run_id", runID).Str("platform", info.Platform).Str("kernel", info.KernelVersion).
			Msg("host identity resolved")
	}

	n := notifier.New(hostname)

	natsURL := f.natsURL
	if f.runtimeCfg != "" {
		if rc, err := runtimecfg.Load(f.runtimeCfg); err != nil {
			log.Error().Err(err).Str("path", f.runtimeCfg).
				Msg("runtime config load failed; falling back to flag/env settings")
		} else if rc.NatsURL != "" {
			natsURL = rc.NatsURL
		}
	}

	var cleanup []func()
	var curSink *events.NatsSink
	if natsURL != "" {
		sink, err := events.NewNatsSink(natsURL, "smartd.warnings")
		if err != nil {
			return nil, nil, err
		}
		curSink = sink
		n.SetEvents(sink)
		cleanup = append(cleanup, func() { curSink.Close() })
	}

	// Live-reload: an edited runtime config file can redirect the NATS
	// side channel without restarting the daemon or touching C3's
	// smartd.conf parse/register cycle (SPEC_FULL.md §4.0).
	if f.runtimeCfg != "" {
		w, err := runtimecfg.Watch(f.runtimeCfg, func(s *runtimecfg.Settings) {
			if s.NatsURL == "" || s.NatsURL == natsURL {
				return
			}
			sink, err := events.NewNatsSink(s.NatsURL, "smartd.warnings")
			if err != nil {
				log.Error().Err(err).Str("nats_url", s.NatsURL).
					Msg("runtime config NATS reconnect failed; keeping previous sink")
				return
			}
			if curSink != nil {
				curSink.Close()
			}
			curSink = sink
			natsURL = s.NatsURL
			n.SetEvents(sink)
			log.Info().Str("nats_url", s.NatsURL).Msg("runtime config reload applied new NATS URL")
		})
		if err != nil {
			log.Error().Err(err).Str("path", f.runtimeCfg).
				Msg("runtime config watch failed; live-reload disabled")
		} else {
			cleanup = append(cleanup, func() { _ = w.Close() })
		}
	}

	var reg *metrics.Registry
	if f.prometheus {
		reg = metrics.New()
		n.Metrics = reg
		go reg.Serve(f.promPort)
	}

	engine := checkengine.New(n, reg)

	openDev := func(ctx context.Context, cfg *smartdcfg.DeviceConfig) device.Device {
		return device.NewSmartctlDevice(cfg.Name, cfg.DevType)
	}

	opts := daemon.Options{
		ConfigPath: f.configPath,
		Debug:      f.debug,
		CheckTime:  intervalDuration(),
		QuitMode:   quitMode,
		PidFile:    f.pidFile,
	}

	d := daemon.New(opts, engine, openDev)
	closeFn := func() {
		for _, c := range cleanup {
			c()
		}
	}
	return d, closeFn, nil
}
