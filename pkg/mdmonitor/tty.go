package mdmonitor

import (
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// ForegroundWriter returns the writer the monitor echoes alert lines
// to when run in the foreground (spec §4.6's console-operator case,
// distinct from syslog/mail): colour-capable when stdout is an actual
// terminal (including Windows consoles, via go-colorable's ANSI
// translation), a plain pass-through otherwise so redirected output or
// a pipe never carries escape codes.
func ForegroundWriter() io.Writer {
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return colorable.NewColorableStdout()
	}
	return colorable.NewNonColorable(os.Stdout)
}
