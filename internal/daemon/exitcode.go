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
	"errors"
	"fmt"

	"gitlab.clyso.com/clyso/smartd/internal/smartdcfg"
)

// ExitCode enumerates the process exit-status categories spec.md §6
// requires, replacing a single generic os.Exit(1) for every failure.
type ExitCode int

const (
	ExitBadCmdline     ExitCode = 1
	ExitNoConfig       ExitCode = 2
	ExitBadConfig      ExitCode = 3
	ExitReadConfig     ExitCode = 4
	ExitNoDevice       ExitCode = 5
	ExitStartupFailure ExitCode = 6
	ExitPidFileFailure ExitCode = 7
	ExitCaughtSignal   ExitCode = 8
	ExitInternalBug    ExitCode = 9
	ExitOutOfMemory    ExitCode = 10
)

// ExitError pairs an error with the exit-status category it belongs to.
// pkg/commands' Execute unwraps this with errors.As to pick the process
// exit code, instead of collapsing every failure to exit(1).
type ExitError struct {
	Code ExitCode
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

func exitErrorf(code ExitCode, format string, args ...any) *ExitError {
	return &ExitError{Code: code, Err: fmt.Errorf(format, args...)}
}

// classifyLoadError maps a LoadAndRegister failure to the exit-status
// category spec.md §6 names for it: a missing config file, an
// unreadable one, and a syntax error in one are distinct categories
// (no-config, read-config, bad-config); anything else encountered while
// probing devices (e.g. a DEVICESCAN discovery failure) is a generic
// startup failure.
func classifyLoadError(err error) *ExitError {
	var syn *smartdcfg.SyntaxError
	switch {
	case errors.Is(err, smartdcfg.ErrConfigMissing):
		return exitErrorf(ExitNoConfig, "%w", err)
	case errors.Is(err, smartdcfg.ErrConfigUnreadable):
		return exitErrorf(ExitReadConfig, "%w", err)
	case errors.As(err, &syn):
		return exitErrorf(ExitBadConfig, "%w", err)
	default:
		return exitErrorf(ExitStartupFailure, "%w", err)
	}
}
