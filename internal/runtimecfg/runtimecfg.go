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

// Package runtimecfg layers an optional, live-reloadable file of
// daemon-level settings on top of the CLI flags (spec.md §6): the NATS
// URL for the notifier's event side channel. It's deliberately separate
// from C3's device-directive grammar (internal/smartdcfg), which is
// hand-rolled because it has to parse smartd's own line syntax; this
// file is ordinary structured config, so it's loaded with
// github.com/spf13/viper exactly as
// pkg/producers/config/config.go's LoadConfig loads GlobalConfig, and
// watched for edits with github.com/fsnotify/fsnotify the way
// pkg/producers/opslog/opslog.go watches its log file.
package runtimecfg

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Settings is the subset of daemon configuration that can change
// without restarting the C3 parse/register cycle.
type Settings struct {
	NatsURL string `mapstructure:"nats_url"`
}

// Load reads path (any format viper's extension sniffing recognizes:
// YAML, JSON, TOML, ...) into Settings.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read runtime config %s: %w", path, err)
	}
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode runtime config %s: %w", path, err)
	}
	return &s, nil
}

// Watcher holds the fsnotify watcher backing Watch, so the caller can
// stop it on shutdown.
type Watcher struct {
	fsw *fsnotify.Watcher
}

// Close stops the watcher and releases its inotify/kqueue handle.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Watch reloads path on every write and passes the result to onChange.
// A reload that fails to parse is logged and otherwise ignored: unlike
// a bad smartd.conf edit (which internal/daemon.LoadAndRegister
// validates in full before it replaces the live entry list), a bad
// runtime-config edit must not take down an already-running daemon.
func Watch(path string, onChange func(*Settings)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create runtime config watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch runtime config %s: %w", path, err)
	}

	go func() {
		for {
			select {
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write != fsnotify.Write {
					continue
				}
				s, err := Load(path)
				if err != nil {
					log.Error().Err(err).Str("path", path).
						Msg("runtime config reload failed; keeping previous settings")
					continue
				}
				onChange(s)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("runtime config watcher error")
			}
		}
	}()

	return &Watcher{fsw: fsw}, nil
}
