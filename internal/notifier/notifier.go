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

// Package notifier implements the rate-limited warning dispatcher (C4):
// it decides whether a failure-class warning should fire, composes the
// message, exports the subprocess environment, and invokes the
// configured mailer/exec command, per spec.md §4.4.
package notifier

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"gitlab.clyso.com/clyso/smartd/internal/events"
	"gitlab.clyso.com/clyso/smartd/internal/metrics"
	"gitlab.clyso.com/clyso/smartd/internal/smartdcfg"
)

// Failure class indices, matching the MailLog slot and the taxonomy in
// spec.md §7 one-to-one.
const (
	ClassTest                 = 0
	ClassHealthFailed         = 1
	ClassUsageAttribute       = 2
	ClassSelfTestIncrease     = 3
	ClassATAErrorIncrease     = 4
	ClassHealthUnsupported    = 5
	ClassReadValuesFailed     = 6
	ClassReadErrorLogFailed   = 7
	ClassReadSelfTestLogFailed = 8
	ClassOpenFailed           = 9
	ClassCurrentPendingSector = 10
	ClassOfflineUncorrectable = 11
	ClassTemperatureCritical  = 12
)

// maxCapturedOutput bounds the subprocess stdout+stderr buffer per
// spec.md §5's "captured and truncated to a fixed buffer (~1 MiB)".
const maxCapturedOutput = 1 << 20

// Severity classifies a failure class for logging and the Prometheus
// counter's "severity" label.
func Severity(class int) string {
	switch class {
	case ClassTest:
		return "info"
	case ClassUsageAttribute, ClassReadValuesFailed, ClassReadErrorLogFailed, ClassReadSelfTestLogFailed:
		return "warning"
	default:
		return "critical"
	}
}

// Request is one dispatch attempt the check engine/scheduler issues.
type Request struct {
	DeviceName string
	DeviceType string
	Class      int
	Subject    string
	LogLine    string // the single log line describing the condition
}

// runner is the subprocess-spawn seam; tests substitute a fake to avoid
// actually exec'ing a mailer.
type runner func(ctx context.Context, name string, env []string, stdin []byte) (exitCode int, err error)

// Notifier owns the host identity used in composed messages and the
// optional NATS/Prometheus side channels from spec.md §4.4's additions.
type Notifier struct {
	Hostname  string
	DNSDomain string
	NISDomain string

	// Metrics is set once at startup and never swapped, unlike Events:
	// the Prometheus listener it serves isn't designed to be
	// reattached, so there's nothing a runtime-config reload could
	// usefully rebind it to.
	Metrics *metrics.Registry

	eventsMu sync.Mutex
	events   events.Sink

	run runner
	now func() time.Time
}

func New(hostname string) *Notifier {
	return &Notifier{
		Hostname: hostname,
		run:      execRunner,
		now:      time.Now,
	}
}

// SetEvents (re)points the NATS side channel, guarded so a runtime
// config reload (internal/runtimecfg) can swap it while Dispatch is
// concurrently running in the main loop.
func (n *Notifier) SetEvents(sink events.Sink) {
	n.eventsMu.Lock()
	n.events = sink
	n.eventsMu.Unlock()
}

func (n *Notifier) getEvents() events.Sink {
	n.eventsMu.Lock()
	defer n.eventsMu.Unlock()
	return n.events
}

// SetRunnerForTest overrides the subprocess-spawn seam so other
// packages' tests can exercise Dispatch without actually exec'ing a
// mailer.
func (n *Notifier) SetRunnerForTest(r func(ctx context.Context, name string, env []string, stdin []byte) (int, error)) {
	n.run = r
}

// ShouldSend implements the frequency policy from spec.md §4.4. Class 0
// (email test) is always "once", regardless of the configured policy.
func ShouldSend(mw *smartdcfg.MailWarn, class int, now time.Time) bool {
	entry := &mw.Log[class]
	if class == ClassTest {
		return entry.Logged == 0
	}
	switch mw.Frequency {
	case smartdcfg.FreqOnce:
		return entry.Logged == 0
	case smartdcfg.FreqDaily:
		return entry.Logged == 0 || now.Sub(entry.LastSent) >= 24*time.Hour
	case smartdcfg.FreqDiminishing:
		if entry.Logged == 0 {
			return true
		}
		backoff := time.Duration(1<<uint(entry.Logged-1)) * 24 * time.Hour
		return now.Sub(entry.LastSent) >= backoff
	default:
		return entry.Logged == 0
	}
}

// Dispatch runs the full rate-limit-check → compose → spawn → record
// sequence for one device/class. It is a no-op (returns nil, nothing
// logged) if the policy suppresses this occurrence.
func (n *Notifier) Dispatch(ctx context.Context, mw *smartdcfg.MailWarn, req Request) error {
	now := n.now()
	if !ShouldSend(mw, req.Class, now) {
		return nil
	}

	entry := &mw.Log[req.Class]
	fullMessage := n.composeBody(req, mw, entry)
	env := n.buildEnv(req, mw, fullMessage)

	hasAddress := len(mw.Addresses) > 0 && !isNoMailer(mw.Addresses)
	var stdin []byte
	if hasAddress {
		stdin = []byte(fullMessage)
	}

	mailer := "mail"
	if mw.ExecCmd != "" {
		mailer = mw.ExecCmd
	}

	exitCode, err := n.run(ctx, mailer, env, stdin)
	if err != nil {
		log.Error().Err(err).Str("device", req.DeviceName).Int("class", req.Class).
			Msg("notifier subprocess failed to spawn; warning not recorded as sent")
		return err
	}
	if exitCode != 0 {
		log.Error().Str("device", req.DeviceName).Int("class", req.Class).Int("exit_code", exitCode).
			Msg("notifier subprocess exited non-zero")
	}

	if entry.Logged == 0 {
		entry.FirstSent = now
	}
	entry.Logged++
	entry.LastSent = now

	n.mirror(req)
	return nil
}

func isNoMailer(addrs []string) bool {
	return len(addrs) == 1 && addrs[0] == smartdcfg.NoMailer
}

func (n *Notifier) mirror(req Request) {
	severity := Severity(req.Class)
	if n.Metrics != nil {
		n.Metrics.IncWarning(req.DeviceName, req.Class, severity)
	}
	if sink := n.getEvents(); sink != nil {
		_ = sink.Publish(events.WarningEvent{
			Device:       req.DeviceName,
			DeviceType:   req.DeviceType,
			FailureClass: req.Class,
			Severity:     severity,
			Subject:      req.Subject,
			Message:      req.LogLine,
		})
	}
}

// composeBody builds the fixed-section-order message body from
// spec.md §4.4: host, DNS domain, NIS domain, the log line, a pointer to
// further investigation, the prior-send timestamp (if any), and an
// additional-messages note.
func (n *Notifier) composeBody(req Request, mw *smartdcfg.MailWarn, entry *smartdcfg.MailLog) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "Host: %s\n", n.Hostname)
	fmt.Fprintf(&b, "DNS domain: %s\n", n.DNSDomain)
	fmt.Fprintf(&b, "NIS domain: %s\n\n", n.NISDomain)
	fmt.Fprintf(&b, "%s\n\n", req.LogLine)
	fmt.Fprintf(&b, "For details see the smartd system log or run smartctl on %s.\n", req.DeviceName)
	if entry.Logged > 0 {
		fmt.Fprintf(&b, "\nThis is the message that was sent previously, at %s.\n", entry.LastSent.Format(time.RFC1123))
	}
	if mw.Frequency == smartdcfg.FreqDaily || mw.Frequency == smartdcfg.FreqDiminishing {
		b.WriteString("\nAdditional messages of this kind will be sent according to the configured frequency policy.\n")
	}
	return b.String()
}

func (n *Notifier) buildEnv(req Request, mw *smartdcfg.MailWarn, fullMessage string) []string {
	address := ""
	if len(mw.Addresses) > 0 {
		address = mw.Addresses[0]
	}
	firstSent := mw.Log[req.Class].FirstSent
	if firstSent.IsZero() {
		firstSent = n.now()
	}
	env := []string{
		"MAILER=" + pick(mw.ExecCmd, "mail"),
		"MESSAGE=" + req.LogLine,
		"SUBJECT=" + req.Subject,
		"TFIRST=" + firstSent.Format(time.RFC1123),
		fmt.Sprintf("TFIRSTEPOCH=%d", firstSent.Unix()),
		fmt.Sprintf("FAILTYPE=%d", req.Class),
		"DEVICESTRING=" + req.DeviceName,
		"DEVICETYPE=" + req.DeviceType,
		"DEVICE=" + req.DeviceName,
		"FULLMESSAGE=" + fullMessage,
	}
	if address != "" && address != smartdcfg.NoMailer {
		env = append(env, "ADDRESS="+address)
	}
	return env
}

func pick(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// execRunner is the default runner: spawn the mailer/exec command with
// the given environment (appended to the child's inherited one) and an
// optional stdin body, capturing bounded combined output.
func execRunner(ctx context.Context, name string, env []string, stdin []byte) (int, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", name)
	cmd.Env = append(cmd.Environ(), env...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var out bytes.Buffer
	limited := &limitedWriter{w: &out, remaining: maxCapturedOutput}
	cmd.Stdout = limited
	cmd.Stderr = limited

	err := cmd.Run()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}

// limitedWriter truncates captured subprocess output to a fixed budget,
// per spec.md §5.
type limitedWriter struct {
	w         *bytes.Buffer
	remaining int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if l.remaining <= 0 {
		return len(p), nil
	}
	n := len(p)
	if n > l.remaining {
		n = l.remaining
	}
	l.w.Write(p[:n])
	l.remaining -= n
	return len(p), nil
}
