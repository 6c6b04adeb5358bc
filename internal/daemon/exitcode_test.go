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
	"testing"

	"github.com/stretchr/testify/assert"

	"gitlab.clyso.com/clyso/smartd/internal/smartdcfg"
)

func TestClassifyLoadErrorMissingConfig(t *testing.T) {
	err := classifyLoadError(smartdcfg.ErrConfigMissing)
	assert.Equal(t, ExitNoConfig, err.Code)
}

func TestClassifyLoadErrorUnreadableConfig(t *testing.T) {
	err := classifyLoadError(smartdcfg.ErrConfigUnreadable)
	assert.Equal(t, ExitReadConfig, err.Code)
}

func TestClassifyLoadErrorSyntaxError(t *testing.T) {
	err := classifyLoadError(&smartdcfg.SyntaxError{Line: 3, Msg: "unknown directive"})
	assert.Equal(t, ExitBadConfig, err.Code)
}

func TestClassifyLoadErrorGenericFallsBackToStartupFailure(t *testing.T) {
	err := classifyLoadError(errors.New("device scan exploded"))
	assert.Equal(t, ExitStartupFailure, err.Code)
}
