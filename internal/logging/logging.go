// Package logging builds the prefixed *log.Logger values handed to each
// component. Output goes to stderr and, when a log file is configured, to a
// size-rotated file as well.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where logs go.
type Options struct {
	// File is the rotating log file. Empty disables file logging.
	File string
	// MaxSizeMB is the size at which the file is rotated (default 10).
	MaxSizeMB int
	// MaxBackups is how many rotated files are kept (default 3).
	MaxBackups int
	// Quiet drops the stderr copy. Ignored when File is empty.
	Quiet bool
}

// Factory hands out loggers sharing one output.
type Factory struct {
	out    io.Writer
	closer io.Closer

	mu    sync.Mutex
	cache map[string]*log.Logger
}

// New creates a Factory for opts.
func New(opts Options) (*Factory, error) {
	f := &Factory{cache: make(map[string]*log.Logger)}

	if opts.File == "" {
		f.out = os.Stderr
		return f, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
		return nil, err
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 10
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 3
	}
	rotator := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		Compress:   true,
	}
	f.closer = rotator
	if opts.Quiet {
		f.out = rotator
	} else {
		f.out = io.MultiWriter(os.Stderr, rotator)
	}
	return f, nil
}

// Discard returns a Factory whose loggers write nowhere.
func Discard() *Factory {
	return &Factory{out: io.Discard, cache: make(map[string]*log.Logger)}
}

// Logger returns the logger for a component, prefixed "[name] ".
func (f *Factory) Logger(name string) *log.Logger {
	f.mu.Lock()
	defer f.mu.Unlock()

	if l, ok := f.cache[name]; ok {
		return l
	}
	l := log.New(f.out, "["+name+"] ", log.LstdFlags)
	f.cache[name] = l
	return l
}

// Writer returns the shared output.
func (f *Factory) Writer() io.Writer {
	return f.out
}

// Close closes the log file, if any.
func (f *Factory) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}
