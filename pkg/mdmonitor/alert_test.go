package mdmonitor

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecAlerterBuildsArgvFromTokenizedCommand(t *testing.T) {
	var gotName string
	var gotArgs []string
	alerter := ExecAlerter{
		Command: "/usr/bin/alert --flag",
		Runner: func(ctx context.Context, name string, args ...string) *exec.Cmd {
			gotName = name
			gotArgs = args
			return exec.CommandContext(ctx, "true")
		},
	}

	err := alerter.Alert(context.Background(), Event{Name: Fail, Array: "/dev/md0", Component: "/dev/sda"})
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/alert", gotName)
	assert.Equal(t, []string{"--flag", "Fail", "/dev/md0", "/dev/sda"}, gotArgs)
}

func TestExecAlerterNoOpWithoutCommand(t *testing.T) {
	alerter := ExecAlerter{}
	err := alerter.Alert(context.Background(), Event{Name: Fail})
	require.NoError(t, err)
}

type fakeMailer struct{ body string }

func (m *fakeMailer) SendMail(ctx context.Context, body io.Reader) error {
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.body = string(b)
	return nil
}

func TestMailAlerterSendsOnlyForMailSetEvents(t *testing.T) {
	mta := &fakeMailer{}
	alerter := MailAlerter{To: "ops@example.com", HostName: "host1", MTA: mta}

	require.NoError(t, alerter.Alert(context.Background(), Event{Name: SpareActive, Array: "/dev/md0"}))
	assert.Empty(t, mta.body)

	require.NoError(t, alerter.Alert(context.Background(), Event{Name: Fail, Array: "/dev/md0", Component: "/dev/sda"}))
	assert.Contains(t, mta.body, "To: ops@example.com")
	assert.Contains(t, mta.body, "Component: /dev/sda")
}

func TestMailAlerterIncludesMDStat(t *testing.T) {
	mta := &fakeMailer{}
	alerter := MailAlerter{
		To:       "ops@example.com",
		HostName: "host1",
		MTA:      mta,
		MDStat:   func() (string, error) { return "Personalities : [raid5]", nil },
	}
	require.NoError(t, alerter.Alert(context.Background(), Event{Name: DegradedArray, Array: "/dev/md0"}))
	assert.Contains(t, mta.body, "Personalities")
}

type fakeSyslogWriter struct {
	lastPriority string
	lastMsg      string
}

func (w *fakeSyslogWriter) Info(m string) error    { w.lastPriority, w.lastMsg = "info", m; return nil }
func (w *fakeSyslogWriter) Warning(m string) error { w.lastPriority, w.lastMsg = "warning", m; return nil }
func (w *fakeSyslogWriter) Crit(m string) error    { w.lastPriority, w.lastMsg = "crit", m; return nil }

func TestSyslogAlerterUsesTablePriority(t *testing.T) {
	w := &fakeSyslogWriter{}
	alerter := SyslogAlerter{Writer: w}

	require.NoError(t, alerter.Alert(context.Background(), Event{Name: Fail, Array: "/dev/md0"}))
	assert.Equal(t, "crit", w.lastPriority)

	require.NoError(t, alerter.Alert(context.Background(), Event{Name: RebuildStarted, Array: "/dev/md0"}))
	assert.Equal(t, "warning", w.lastPriority)

	require.NoError(t, alerter.Alert(context.Background(), Event{Name: NewArray, Array: "/dev/md0"}))
	assert.Equal(t, "info", w.lastPriority)
}

type countingAlerter struct{ calls int }

func (c *countingAlerter) Alert(ctx context.Context, ev Event) error {
	c.calls++
	return nil
}

type failingAlerter struct{}

func (failingAlerter) Alert(ctx context.Context, ev Event) error { return fmt.Errorf("boom") }

func TestAltersFanOutFiresAllEvenWhenOneFails(t *testing.T) {
	a, b := &countingAlerter{}, &countingAlerter{}
	all := Alerters{a, failingAlerter{}, b}
	err := all.Alert(context.Background(), Event{Name: Fail})
	require.Error(t, err)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}
