package rudp

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// zerologWriterLevel is a level-gated, swappable zerolog writer. rudp-echo
// wraps its log file in one of these so a SIGHUP can reopen the file (for
// log rotation) by swapping the underlying *os.File without tearing down
// or reconstructing the logger itself.
type zerologWriterLevel struct {
	w io.Writer // or zerolog.LevelWriter
	l zerolog.Level
	m sync.Mutex
}

var _ zerolog.LevelWriter = (*zerologWriterLevel)(nil)

func newZerologWriterLevel(w io.Writer, l zerolog.Level) *zerologWriterLevel {
	return &zerologWriterLevel{w: w, l: l}
}

func (wl *zerologWriterLevel) Write(p []byte) (n int, err error) {
	wl.m.Lock()
	defer wl.m.Unlock()
	if wl.w != nil {
		return wl.w.Write(p)
	}
	return len(p), nil
}

func (wl *zerologWriterLevel) WriteLevel(l zerolog.Level, p []byte) (n int, err error) {
	if l >= wl.l {
		wl.m.Lock()
		defer wl.m.Unlock()
		if wl.w != nil {
			if lw, ok := wl.w.(zerolog.LevelWriter); ok {
				return lw.WriteLevel(l, p)
			}
			return wl.w.Write(p)
		}
	}
	return len(p), nil
}

func (wl *zerologWriterLevel) SwapWriter(fn func(io.Writer) io.Writer) {
	wl.m.Lock()
	defer wl.m.Unlock()
	wl.w = fn(wl.w)
}

// NewLogger builds the example CLI's logger from c: a console writer
// (plain or pretty, per c.LogPretty), plus a second level-gated writer
// targeting c.LogFile if one is configured. The returned reopen func
// closes and reopens the log file in place, for SIGHUP-driven log
// rotation; it is a no-op when no log file is configured.
func NewLogger(c *Config) (zerolog.Logger, func() error, error) {
	var console io.Writer = os.Stdout
	if c.LogPretty {
		console = zerolog.ConsoleWriter{Out: os.Stdout}
	}

	if c.LogFile == "" {
		log := zerolog.New(console).Level(c.LogLevel).With().Timestamp().Logger()
		return log, func() error { return nil }, nil
	}

	f, err := openLogFile(c.LogFile)
	if err != nil {
		return zerolog.Logger{}, nil, err
	}
	fw := newZerologWriterLevel(f, c.LogLevel)

	reopen := func() error {
		nf, err := openLogFile(c.LogFile)
		if err != nil {
			return err
		}
		var old io.Writer
		fw.SwapWriter(func(w io.Writer) io.Writer {
			old = w
			return nf
		})
		if closer, ok := old.(io.Closer); ok {
			closer.Close()
		}
		return nil
	}

	log := zerolog.New(zerolog.MultiLevelWriter(console, fw)).Level(c.LogLevel).With().Timestamp().Logger()
	return log, reopen, nil
}

func openLogFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
}
