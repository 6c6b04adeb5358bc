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

package smartdcfg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReaderBasicEntry(t *testing.T) {
	res, err := ParseReader(strings.NewReader("/dev/sda -H -m root@localhost -M once\n"))
	require.NoError(t, err)
	require.Equal(t, OutcomeEntries, res.Outcome)
	require.Len(t, res.Entries, 1)

	cfg := res.Entries[0]
	assert.Equal(t, "/dev/sda", cfg.Name)
	assert.True(t, cfg.Smartcheck)
	assert.Equal(t, []string{"root@localhost"}, cfg.MailWarn.Addresses)
	assert.Equal(t, FreqOnce, cfg.MailWarn.Frequency)
	assert.Equal(t, 1, cfg.LineNo)
}

func TestParseReaderImplicitDashA(t *testing.T) {
	res, err := ParseReader(strings.NewReader("/dev/sdb\n"))
	require.NoError(t, err)
	cfg := res.Entries[0]
	assert.True(t, cfg.Smartcheck)
	assert.True(t, cfg.Usagefailed)
	assert.True(t, cfg.Prefail)
	assert.True(t, cfg.Usage)
	assert.True(t, cfg.Selftest)
	assert.True(t, cfg.Errorlog)
}

func TestParseReaderDefaultFrequencyOnce(t *testing.T) {
	res, err := ParseReader(strings.NewReader("/dev/sdc -m a@b\n"))
	require.NoError(t, err)
	assert.Equal(t, FreqOnce, res.Entries[0].MailWarn.Frequency)
}

func TestParseReaderCommentsAndBlankLines(t *testing.T) {
	res, err := ParseReader(strings.NewReader("# a comment\n\n/dev/sda -H # trailing comment\n"))
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.True(t, res.Entries[0].Smartcheck)
}

func TestParseReaderContinuation(t *testing.T) {
	res, err := ParseReader(strings.NewReader("/dev/sda -H \\\n  -m root@localhost\n"))
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	cfg := res.Entries[0]
	assert.True(t, cfg.Smartcheck)
	assert.Equal(t, []string{"root@localhost"}, cfg.MailWarn.Addresses)
	assert.Equal(t, 1, cfg.LineNo)
}

func TestParseReaderDeviceScanAlone(t *testing.T) {
	res, err := ParseReader(strings.NewReader("DEVICESCAN -H -m root@localhost\n"))
	require.NoError(t, err)
	require.Equal(t, OutcomeScanTemplate, res.Outcome)
	require.NotNil(t, res.Template)
	assert.True(t, res.Template.Smartcheck)
	assert.Equal(t, 0, res.Template.LineNo)
}

func TestParseReaderDeviceScanMustBeAlone(t *testing.T) {
	_, err := ParseReader(strings.NewReader("DEVICESCAN -H\n/dev/sda -H\n"))
	require.Error(t, err)
	var se *SyntaxError
	require.ErrorAs(t, err, &se)
}

func TestParseReaderUnknownDirective(t *testing.T) {
	_, err := ParseReader(strings.NewReader("/dev/sda -Z\n"))
	require.Error(t, err)
	var se *SyntaxError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1, se.Line)
}

func TestParseReaderMissingArgument(t *testing.T) {
	_, err := ParseReader(strings.NewReader("/dev/sda -m\n"))
	require.Error(t, err)
	var se *SyntaxError
	require.ErrorAs(t, err, &se)
}

func TestParseReaderInvalidRegex(t *testing.T) {
	_, err := ParseReader(strings.NewReader("/dev/sda -s L/../.././0[2\n"))
	require.Error(t, err)
	var se *SyntaxError
	require.ErrorAs(t, err, &se)
}

func TestParseReaderAttributeIDZeroRejected(t *testing.T) {
	for _, directive := range []string{"-i", "-I", "-r", "-R"} {
		_, err := ParseReader(strings.NewReader("/dev/sda " + directive + " 0\n"))
		require.Errorf(t, err, "%s 0 should be rejected", directive)
		var se *SyntaxError
		require.ErrorAs(t, err, &se)
	}
}

func TestParseReaderPendingAllowsZeroToDisable(t *testing.T) {
	res, err := ParseReader(strings.NewReader("/dev/sda -C 0 -U 0\n"))
	require.NoError(t, err)
	cfg := res.Entries[0]
	assert.False(t, cfg.Pending.MonitorsCurrentPending())
	assert.False(t, cfg.Pending.MonitorsOfflineUncorrectable())
}

func TestParseReaderPendingDefaultsWithoutDirective(t *testing.T) {
	res, err := ParseReader(strings.NewReader("/dev/sda -H\n"))
	require.NoError(t, err)
	cfg := res.Entries[0]
	assert.Equal(t, 197, cfg.Pending.CurrentPendingID)
	assert.Equal(t, 198, cfg.Pending.OfflineUncorrectableID)
}

func TestParseReaderMaskingDirectives(t *testing.T) {
	res, err := ParseReader(strings.NewReader("/dev/sda -i 5 -I 9 -r 200 -R 201\n"))
	require.NoError(t, err)
	cfg := res.Entries[0]
	assert.True(t, cfg.MonitorFlags.IsOff(CategoryFailUse, 5))
	assert.True(t, cfg.MonitorFlags.IsOff(CategoryIgnore, 9))
	assert.True(t, cfg.MonitorFlags.IsOn(CategoryRawPrint, 200))
	assert.True(t, cfg.MonitorFlags.IsOn(CategoryRaw, 201))
	// Untouched ids keep their category defaults: FAILUSE/IGNORE start
	// unmasked, RAWPRINT/RAW start masked (suppressed) until opted in.
	assert.False(t, cfg.MonitorFlags.IsOff(CategoryFailUse, 1))
	assert.True(t, cfg.MonitorFlags.IsOff(CategoryRawPrint, 1))
}

func TestParseReaderDashMWithoutDashMRejected(t *testing.T) {
	_, err := ParseReader(strings.NewReader("/dev/sda -M once\n"))
	require.Error(t, err)
	var se *SyntaxError
	require.ErrorAs(t, err, &se)
}

func TestParseReaderNoMailerRequiresExec(t *testing.T) {
	_, err := ParseReader(strings.NewReader("/dev/sda -m <nomailer>\n"))
	require.Error(t, err)

	res, err := ParseReader(strings.NewReader("/dev/sda -m <nomailer> -M exec /bin/true\n"))
	require.NoError(t, err)
	cfg := res.Entries[0]
	assert.Equal(t, "/bin/true", cfg.MailWarn.ExecCmd)
	assert.Equal(t, []string{"<nomailer>"}, cfg.MailWarn.Addresses)
}

func TestParseReaderPowerModeWithQuietModifier(t *testing.T) {
	res, err := ParseReader(strings.NewReader("/dev/sda -n idle,q\n"))
	require.NoError(t, err)
	cfg := res.Entries[0]
	assert.Equal(t, PowerModeSkipIdle, cfg.PowerModeGate)
	assert.True(t, cfg.Powerquiet)
}

func TestParseReaderLineTooLong(t *testing.T) {
	line := "/dev/sda -H " + strings.Repeat("x", MaxLineLen)
	_, err := ParseReader(strings.NewReader(line + "\n"))
	require.Error(t, err)
	var se *SyntaxError
	require.ErrorAs(t, err, &se)
}

func TestParseReaderLineAtExactLimitAccepted(t *testing.T) {
	padding := MaxLineLen - len("/dev/sda -H")
	line := "/dev/sda" + strings.Repeat("x", padding) + " -H"
	require.Equal(t, MaxLineLen, len(line))
	_, err := ParseReader(strings.NewReader(line + "\n"))
	// The comment-free line itself is exactly MAXLINELEN; it is a valid
	// (if odd) device name token and must be accepted, not rejected.
	require.NoError(t, err)
}

func TestParseFileMissing(t *testing.T) {
	_, err := ParseFile("/nonexistent/path/smartd.conf")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigMissing)
}

func TestParseReaderFixFirmwareBug(t *testing.T) {
	res, err := ParseReader(strings.NewReader("/dev/sda -F samsung3\n"))
	require.NoError(t, err)
	assert.Equal(t, FixSamsung3, res.Entries[0].FixFirmwareBug)
}

func TestParseReaderAttributeLabel(t *testing.T) {
	res, err := ParseReader(strings.NewReader("/dev/sda -v 9,min2hour\n"))
	require.NoError(t, err)
	assert.Equal(t, "min2hour", res.Entries[0].AttributeDefs[9].Format)
}
