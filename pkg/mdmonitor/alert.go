package mdmonitor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/syslog"
	"os/exec"
	"time"

	"github.com/mattn/go-shellwords"
)

// Alerter is one of the three independent alerting actions spec §4.6
// describes; all that apply fire for a given event.
type Alerter interface {
	Alert(ctx context.Context, ev Event) error
}

// Alerters fires every configured action for ev, collecting (not
// short-circuiting on) individual failures, since the actions are
// independent by spec.
type Alerters []Alerter

func (as Alerters) Alert(ctx context.Context, ev Event) error {
	var firstErr error
	for _, a := range as {
		if a == nil {
			continue
		}
		if err := a.Alert(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ExecAlerter runs a configured alert command with
// argv=(cmd, event_name, array_name, component_name_or_empty) and
// waits for it, single-threaded: the next event waits (spec §4.6
// "fork/exec it ... and waitpid the child").
type ExecAlerter struct {
	// Command is the configured PROGRAM value, possibly carrying its
	// own arguments ("/usr/bin/foo --flag"); tokenized with
	// mattn/go-shellwords before argv construction, recovering the
	// original's shell-word-splitting of the configured program path.
	Command string
	Runner  func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func (a ExecAlerter) Alert(ctx context.Context, ev Event) error {
	if a.Command == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, alertTimeout)
	defer cancel()

	parser := shellwords.NewParser()
	args, err := parser.Parse(a.Command)
	if err != nil {
		return fmt.Errorf("mdmonitor: parsing PROGRAM %q: %w", a.Command, err)
	}
	if len(args) == 0 {
		return fmt.Errorf("mdmonitor: PROGRAM %q tokenized to no words", a.Command)
	}

	runner := a.Runner
	if runner == nil {
		runner = exec.CommandContext
	}
	cmd := runner(ctx, args[0], append(args[1:], ev.Name.String(), ev.Array, ev.Component)...)
	return cmd.Run()
}

// Mailer is the narrow surface MailAlerter needs from a mail transfer
// agent pipe: production wires it to exec.Command("sendmail",
// "-t").StdinPipe; tests supply an in-memory writer.
type Mailer interface {
	SendMail(ctx context.Context, body io.Reader) error
}

// MailAlerter opens a pipe to a mail transfer agent with
// From/To/Subject headers synthesised from the monitor host name, and
// writes the event plus current /proc/mdstat (spec §4.6 action ii).
type MailAlerter struct {
	To       string
	From     string
	HostName string
	MDStat   func() (string, error)
	MTA      Mailer
}

func (a MailAlerter) Alert(ctx context.Context, ev Event) error {
	if a.To == "" || !ev.Name.Mails() {
		return nil
	}

	var mdstat string
	if a.MDStat != nil {
		s, err := a.MDStat()
		if err == nil {
			mdstat = s
		}
	}

	var body bytes.Buffer
	fmt.Fprintf(&body, "From: %s\n", mailFrom(a.From, a.HostName))
	fmt.Fprintf(&body, "To: %s\n", a.To)
	fmt.Fprintf(&body, "Subject: mdadm monitor event on %s: %s\n\n", a.HostName, ev.Name)
	fmt.Fprintf(&body, "Event: %s\nArray: %s\n", ev.Name, ev.Array)
	if ev.Component != "" {
		fmt.Fprintf(&body, "Component: %s\n", ev.Component)
	}
	if ev.Description != "" {
		fmt.Fprintf(&body, "%s\n", ev.Description)
	}
	if mdstat != "" {
		fmt.Fprintf(&body, "\n%s\n", mdstat)
	}

	return a.MTA.SendMail(ctx, &body)
}

func mailFrom(from, hostName string) string {
	if from != "" {
		return from
	}
	return fmt.Sprintf("mdadm-monitor@%s", hostName)
}

// SyslogWriter is the narrow surface SyslogAlerter needs; production
// wires it to *syslog.Writer, tests supply a fake.
type SyslogWriter interface {
	Info(m string) error
	Warning(m string) error
	Crit(m string) error
}

// SyslogAlerter logs at the table priority (spec §4.6 action iii).
// log/syslog is the standard library's own Unix-syslog client; no
// third-party syslog package appears anywhere in the corpus, so this
// is the one alert path with no ecosystem library to reach for instead
// (see DESIGN.md).
type SyslogAlerter struct {
	Writer SyslogWriter
}

func (a SyslogAlerter) Alert(ctx context.Context, ev Event) error {
	if a.Writer == nil {
		return nil
	}
	msg := fmt.Sprintf("%s event on %s", ev.Name, ev.Array)
	if ev.Component != "" {
		msg += fmt.Sprintf(" (%s)", ev.Component)
	}
	switch ev.Name.SyslogPriority() {
	case PriorityCritical:
		return a.Writer.Crit(msg)
	case PriorityWarning:
		return a.Writer.Warning(msg)
	default:
		return a.Writer.Info(msg)
	}
}

// NewSyslogWriter dials the local syslogd, tagged "mdadm".
func NewSyslogWriter() (*syslog.Writer, error) {
	return syslog.New(syslog.LOG_DAEMON, "mdadm")
}

// alertTimeout bounds how long a single ExecAlerter invocation may run
// before the monitor gives up waiting on it, so one wedged alert
// command cannot stall event processing indefinitely.
const alertTimeout = 30 * time.Second
