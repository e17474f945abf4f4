package util

import (
	"fmt"
	"io"
	"net"
	"os"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
	pterm.DefaultLogger.Writer = os.Stderr
}

// Logger writes leveled lines through the pterm default logger, tagged with
// its structured arguments. The zero Logger writes untagged lines.
type Logger struct {
	args []pterm.LoggerArgument
}

// ForPeer returns a Logger whose lines carry the peer's PeerID, so the
// client and server views of one exchange can be matched up.
func ForPeer(addr net.Addr) Logger {
	return Logger{args: pterm.DefaultLogger.Args("peer", fmt.Sprintf("%08x", PeerID(addr)))}
}

func (l Logger) Debug(format string, args ...any) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...), l.args)
}

func (l Logger) Info(format string, args ...any) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...), l.args)
}

func (l Logger) Warning(format string, args ...any) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...), l.args)
}

func (l Logger) Error(format string, args ...any) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...), l.args)
}

// Untagged shorthands. All output goes to stderr unless redirected with
// SetLogOutput.

func LogDebug(format string, args ...any)   { Logger{}.Debug(format, args...) }
func LogInfo(format string, args ...any)    { Logger{}.Info(format, args...) }
func LogSuccess(format string, args ...any) { Logger{}.Info(format, args...) }
func LogWarning(format string, args ...any) { Logger{}.Warning(format, args...) }
func LogError(format string, args ...any)   { Logger{}.Error(format, args...) }

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// SetLogOutput redirects log output, e.g. to io.Discard in tests. A nil
// writer restores stderr.
func SetLogOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	pterm.DefaultLogger.Writer = w
}
