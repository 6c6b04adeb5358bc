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
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// MaxLineLen and MaxContLine bound, respectively, one raw line and one
// (possibly continuation-joined) logical line, per spec.md §6.
const (
	MaxLineLen  = 256
	MaxContLine = 1024
)

// ErrConfigMissing and ErrConfigUnreadable discriminate the two ways
// ParseFile can fail to even start parsing, per spec.md §4.3's return
// discipline ("file missing, file unreadable" are distinct outcomes from
// a syntax error).
var (
	ErrConfigMissing    = errors.New("config file does not exist")
	ErrConfigUnreadable = errors.New("config file is not readable")
)

// SyntaxError is returned for any unknown directive, missing argument,
// out-of-range integer, or invalid regex encountered while parsing. Col
// is a token index within the logical line, not a byte offset, which is
// enough for a log-grep to isolate the offending directive.
type SyntaxError struct {
	Line int
	Col  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("config line %d: %s", e.Line, e.Msg)
}

// ParseOutcome discriminates the two shapes a successful parse can take,
// per spec.md §4.3: a normal list of entries, or a single DEVICESCAN
// template awaiting device discovery.
type ParseOutcome int

const (
	OutcomeEntries ParseOutcome = iota
	OutcomeScanTemplate
)

// ParseResult is what ParseFile/ParseReader return on success.
type ParseResult struct {
	Outcome  ParseOutcome
	Entries  []*DeviceConfig // valid when Outcome == OutcomeEntries
	Template *DeviceConfig   // valid when Outcome == OutcomeScanTemplate
}

// ParseFile opens path and parses it. Failure to open is reported as
// ErrConfigMissing or ErrConfigUnreadable (wrapped, so errors.Is works);
// failures found while reading the grammar are reported as *SyntaxError.
func ParseFile(path string) (*ParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigMissing, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigUnreadable, path, err)
	}
	defer f.Close()
	return ParseReader(f)
}

// ParseReader runs the grammar against an already-open reader, letting
// tests drive the directive parser without touching the filesystem.
func ParseReader(r io.Reader) (*ParseResult, error) {
	lines, err := splitLogicalLines(r)
	if err != nil {
		return nil, err
	}

	var entries []*DeviceConfig
	for _, ll := range lines {
		tokens := strings.Fields(ll.text)
		if len(tokens) == 0 {
			continue
		}
		name := tokens[0]

		if name == "DEVICESCAN" {
			if len(lines) != 1 {
				return nil, &SyntaxError{Line: ll.startLine, Msg: "DEVICESCAN must be the only entry in the config file"}
			}
			cfg := newDeviceConfig(name, 0)
			if err := parseDirectives(cfg, tokens[1:], ll.startLine); err != nil {
				return nil, err
			}
			return &ParseResult{Outcome: OutcomeScanTemplate, Template: cfg}, nil
		}

		cfg := newDeviceConfig(name, ll.startLine)
		if err := parseDirectives(cfg, tokens[1:], ll.startLine); err != nil {
			return nil, err
		}
		entries = append(entries, cfg)
	}
	return &ParseResult{Outcome: OutcomeEntries, Entries: entries}, nil
}

// newDeviceConfig returns an entry with the defaults every entry starts
// with before directives are applied: id 0 permanently masked in every
// attribute category, and current-pending/offline-uncorrectable tracking
// on by default at the conventional attribute ids (-C/-U override, -a
// repeats them explicitly).
func newDeviceConfig(name string, lineNo int) *DeviceConfig {
	return &DeviceConfig{
		Name:         name,
		LineNo:       lineNo,
		MonitorFlags: NewAttributeMonitorFlags(),
		Pending:      PendingSectors{CurrentPendingID: 197, OfflineUncorrectableID: 198},
	}
}

type logicalLine struct {
	text      string
	startLine int // line number of the first raw line contributing to this logical line
}

// splitLogicalLines implements the two-phase tokenizer spec.md §9
// recommends: this phase only joins continuations and strips comments,
// leaving directive parsing to operate on whole, already-assembled lines.
func splitLogicalLines(r io.Reader) ([]logicalLine, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), MaxLineLen+64)

	var result []logicalLine
	var cur strings.Builder
	curStart := 0
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		if len(raw) > MaxLineLen {
			return nil, &SyntaxError{Line: lineNo, Msg: fmt.Sprintf("line exceeds %d characters", MaxLineLen)}
		}

		line := raw
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		continued := false
		trimmedRight := strings.TrimRight(line, " \t")
		if strings.HasSuffix(trimmedRight, "\\") {
			continued = true
			line = strings.TrimSuffix(trimmedRight, "\\")
		}

		if cur.Len() == 0 {
			curStart = lineNo
		} else {
			cur.WriteByte(' ')
		}
		cur.WriteString(line)
		if cur.Len() > MaxContLine {
			return nil, &SyntaxError{Line: curStart, Msg: fmt.Sprintf("continued line exceeds %d characters", MaxContLine)}
		}

		if continued {
			continue
		}
		text := strings.TrimSpace(cur.String())
		cur.Reset()
		if text == "" {
			continue
		}
		result = append(result, logicalLine{text: text, startLine: curStart})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigUnreadable, err)
	}
	return result, nil
}

// parseDirectives consumes the directive tokens that follow a device
// identifier and applies the post-validation rules from spec.md §4.3.
func parseDirectives(cfg *DeviceConfig, tokens []string, lineNo int) error {
	sawM, sawLittleM := false, false

	argAt := func(i int, flag string) (string, error) {
		if i >= len(tokens) {
			return "", &SyntaxError{Line: lineNo, Col: i, Msg: flag + " requires an argument"}
		}
		return tokens[i], nil
	}
	attrID := func(tok, flag string, col int, allowZero bool) (int, error) {
		id, err := strconv.Atoi(tok)
		if err != nil || id < 0 || id > 255 {
			return 0, &SyntaxError{Line: lineNo, Col: col, Msg: fmt.Sprintf("%s: invalid attribute id %q", flag, tok)}
		}
		if id == 0 && !allowZero {
			return 0, &SyntaxError{Line: lineNo, Col: col, Msg: flag + ": attribute id 0 is not allowed"}
		}
		return id, nil
	}

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch tok {
		case "-d":
			arg, err := argAt(i+1, tok)
			if err != nil {
				return err
			}
			i++
			switch arg {
			case "removable":
				cfg.Removable = true
			case "ata", "scsi", "sat", "auto":
				cfg.DevType = DevType(arg)
			default:
				return &SyntaxError{Line: lineNo, Col: i, Msg: "-d: unknown device type " + arg}
			}

		case "-T":
			arg, err := argAt(i+1, tok)
			if err != nil {
				return err
			}
			i++
			switch arg {
			case "normal":
				cfg.Permissive = false
			case "permissive":
				cfg.Permissive = true
			default:
				return &SyntaxError{Line: lineNo, Col: i, Msg: "-T: expected normal|permissive"}
			}

		case "-o":
			arg, err := argAt(i+1, tok)
			if err != nil {
				return err
			}
			i++
			ts, err := triState(arg)
			if err != nil {
				return &SyntaxError{Line: lineNo, Col: i, Msg: "-o: " + err.Error()}
			}
			cfg.Autoofflinetest = ts

		case "-S":
			arg, err := argAt(i+1, tok)
			if err != nil {
				return err
			}
			i++
			ts, err := triState(arg)
			if err != nil {
				return &SyntaxError{Line: lineNo, Col: i, Msg: "-S: " + err.Error()}
			}
			cfg.Autosave = ts

		case "-n":
			arg, err := argAt(i+1, tok)
			if err != nil {
				return err
			}
			i++
			parts := strings.SplitN(arg, ",", 2)
			switch parts[0] {
			case "never":
				cfg.PowerModeGate = PowerModeAlways
			case "sleep":
				cfg.PowerModeGate = PowerModeSkipSleep
			case "standby":
				cfg.PowerModeGate = PowerModeSkipStandby
			case "idle":
				cfg.PowerModeGate = PowerModeSkipIdle
			default:
				return &SyntaxError{Line: lineNo, Col: i, Msg: "-n: unknown power mode " + parts[0]}
			}
			if len(parts) == 2 {
				if parts[1] != "q" {
					return &SyntaxError{Line: lineNo, Col: i, Msg: "-n: unknown modifier " + parts[1]}
				}
				cfg.Powerquiet = true
			}

		case "-H":
			cfg.Smartcheck = true

		case "-s":
			arg, err := argAt(i+1, tok)
			if err != nil {
				return err
			}
			i++
			// POSIX ERE, anchored so a match must cover the entire
			// "X/MM/DD/w/HH" string (spec.md §4.7); internal/selftest's
			// CompilePattern does the same compile, duplicated here
			// rather than imported to avoid smartdcfg<->selftest cycle
			// (selftest already depends on smartdcfg's types).
			re, cerr := regexp.CompilePOSIX("^(?:" + arg + ")$")
			if cerr != nil {
				return &SyntaxError{Line: lineNo, Col: i, Msg: "-s: invalid regex: " + cerr.Error()}
			}
			cfg.TestData.Regex = arg
			cfg.TestData.Compiled = re

		case "-l":
			arg, err := argAt(i+1, tok)
			if err != nil {
				return err
			}
			i++
			switch arg {
			case "error":
				cfg.Errorlog = true
			case "selftest":
				cfg.Selftest = true
			default:
				return &SyntaxError{Line: lineNo, Col: i, Msg: "-l: expected error|selftest"}
			}

		case "-f":
			cfg.Usagefailed = true

		case "-m":
			arg, err := argAt(i+1, tok)
			if err != nil {
				return err
			}
			i++
			cfg.MailWarn.Addresses = strings.Split(arg, ",")
			sawLittleM = true

		case "-M":
			arg, err := argAt(i+1, tok)
			if err != nil {
				return err
			}
			i++
			switch arg {
			case "once":
				cfg.MailWarn.Frequency = FreqOnce
			case "daily":
				cfg.MailWarn.Frequency = FreqDaily
			case "diminishing":
				cfg.MailWarn.Frequency = FreqDiminishing
			case "test":
				cfg.MailWarn.TestFlag = true
			case "exec":
				cmd, err := argAt(i+1, "-M exec")
				if err != nil {
					return err
				}
				i++
				cfg.MailWarn.ExecCmd = cmd
			default:
				return &SyntaxError{Line: lineNo, Col: i, Msg: "-M: unknown policy " + arg}
			}
			sawM = true

		case "-p":
			cfg.Prefail = true
		case "-u":
			cfg.Usage = true
		case "-t":
			cfg.Prefail, cfg.Usage = true, true

		case "-r":
			arg, err := argAt(i+1, tok)
			if err != nil {
				return err
			}
			i++
			id, err := attrID(arg, tok, i, false)
			if err != nil {
				return err
			}
			cfg.MonitorFlags.Clear(CategoryRawPrint, id)

		case "-R":
			arg, err := argAt(i+1, tok)
			if err != nil {
				return err
			}
			i++
			id, err := attrID(arg, tok, i, false)
			if err != nil {
				return err
			}
			cfg.MonitorFlags.Clear(CategoryRaw, id)

		case "-i":
			arg, err := argAt(i+1, tok)
			if err != nil {
				return err
			}
			i++
			id, err := attrID(arg, tok, i, false)
			if err != nil {
				return err
			}
			cfg.MonitorFlags.Set(CategoryFailUse, id)

		case "-I":
			arg, err := argAt(i+1, tok)
			if err != nil {
				return err
			}
			i++
			id, err := attrID(arg, tok, i, false)
			if err != nil {
				return err
			}
			cfg.MonitorFlags.Set(CategoryIgnore, id)

		case "-C":
			arg, err := argAt(i+1, tok)
			if err != nil {
				return err
			}
			i++
			id, err := attrID(arg, tok, i, true)
			if err != nil {
				return err
			}
			cfg.Pending.CurrentPendingID = id

		case "-U":
			arg, err := argAt(i+1, tok)
			if err != nil {
				return err
			}
			i++
			id, err := attrID(arg, tok, i, true)
			if err != nil {
				return err
			}
			cfg.Pending.OfflineUncorrectableID = id

		case "-W":
			arg, err := argAt(i+1, tok)
			if err != nil {
				return err
			}
			i++
			parts := strings.Split(arg, ",")
			if len(parts) != 3 {
				return &SyntaxError{Line: lineNo, Col: i, Msg: "-W: expected D,I,C"}
			}
			vals := make([]int, 3)
			for k, p := range parts {
				v, err := strconv.Atoi(p)
				if err != nil || v < 0 || v > 255 {
					return &SyntaxError{Line: lineNo, Col: i, Msg: "-W: value out of range 0..255: " + p}
				}
				vals[k] = v
			}
			cfg.TempDiff, cfg.TempInfo, cfg.TempCrit = vals[0], vals[1], vals[2]

		case "-v":
			arg, err := argAt(i+1, tok)
			if err != nil {
				return err
			}
			i++
			parts := strings.SplitN(arg, ",", 2)
			id, err := attrID(parts[0], tok, i, false)
			if err != nil {
				return err
			}
			label := AttributeLabel{}
			if len(parts) == 2 {
				label.Format = parts[1]
			}
			cfg.AttributeDefs[id] = label

		case "-P":
			arg, err := argAt(i+1, tok)
			if err != nil {
				return err
			}
			i++
			switch arg {
			case "use":
				cfg.Ignorepresets, cfg.Showpresets = false, false
			case "ignore":
				cfg.Ignorepresets = true
			case "show":
				cfg.Showpresets = true
			case "showall":
				cfg.Showpresets = true
			default:
				return &SyntaxError{Line: lineNo, Col: i, Msg: "-P: unknown mode " + arg}
			}

		case "-a":
			cfg.Smartcheck = true
			cfg.Usagefailed = true
			cfg.Prefail, cfg.Usage = true, true
			cfg.Errorlog = true
			cfg.Selftest = true
			cfg.Pending.CurrentPendingID = 197
			cfg.Pending.OfflineUncorrectableID = 198

		case "-F":
			arg, err := argAt(i+1, tok)
			if err != nil {
				return err
			}
			i++
			switch arg {
			case "none":
				cfg.FixFirmwareBug = FixNone
			case "samsung":
				cfg.FixFirmwareBug = FixSamsung
			case "samsung2":
				cfg.FixFirmwareBug = FixSamsung2
			case "samsung3":
				cfg.FixFirmwareBug = FixSamsung3
			default:
				return &SyntaxError{Line: lineNo, Col: i, Msg: "-F: unknown firmware fix " + arg}
			}

		default:
			return &SyntaxError{Line: lineNo, Col: i, Msg: "unknown directive " + tok}
		}
	}

	if sawM && !sawLittleM {
		return &SyntaxError{Line: lineNo, Msg: "-M given without -m"}
	}
	if len(cfg.MailWarn.Addresses) == 1 && cfg.MailWarn.Addresses[0] == NoMailer && cfg.MailWarn.ExecCmd == "" {
		return &SyntaxError{Line: lineNo, Msg: "-m " + NoMailer + " requires -M exec"}
	}
	if !cfg.AnyCheckEnabled() {
		cfg.Smartcheck = true
		cfg.Usagefailed = true
		cfg.Prefail, cfg.Usage = true, true
		cfg.Errorlog = true
		cfg.Selftest = true
	}
	if (len(cfg.MailWarn.Addresses) > 0 || cfg.MailWarn.ExecCmd != "") && cfg.MailWarn.Frequency == FreqUnset {
		cfg.MailWarn.Frequency = FreqOnce
	}
	return nil
}

func triState(arg string) (TriState, error) {
	switch arg {
	case "on":
		return Enable, nil
	case "off":
		return Disable, nil
	default:
		return Unset, fmt.Errorf("expected on|off, got %q", arg)
	}
}
