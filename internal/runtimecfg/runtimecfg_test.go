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

package runtimecfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRuntimeConfig(t *testing.T, path, natsURL string) {
	t.Helper()
	content := "nats_url: " + natsURL + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadDecodesNatsURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime.yaml")
	writeRuntimeConfig(t, path, "nats://broker-a:4222")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nats://broker-a:4222", s.NatsURL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime.yaml")
	writeRuntimeConfig(t, path, "nats://broker-a:4222")

	changes := make(chan *Settings, 4)
	w, err := Watch(path, func(s *Settings) { changes <- s })
	require.NoError(t, err)
	defer w.Close()

	writeRuntimeConfig(t, path, "nats://broker-b:4222")

	select {
	case s := <-changes:
		assert.Equal(t, "nats://broker-b:4222", s.NatsURL)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for runtime config reload")
	}
}
