package ui

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Logger provides tag-colored diagnostics. Info/success/progress go to
// stdout, warnings and errors to stderr, and every line is mirrored
// uncolored into the run log file when one is open.
type Logger struct {
	Verbose bool
	Quiet   bool

	mu      sync.Mutex
	logFile *os.File

	infoTag    *color.Color
	successTag *color.Color
	warnTag    *color.Color
	errorTag   *color.Color
	debugTag   *color.Color
}

// NewLogger creates a new logger
func NewLogger(verbose, quiet, noColor bool) *Logger {
	l := &Logger{
		Verbose:    verbose,
		Quiet:      quiet,
		infoTag:    color.New(color.FgBlue),
		successTag: color.New(color.FgGreen),
		warnTag:    color.New(color.FgYellow),
		errorTag:   color.New(color.FgRed),
		debugTag:   color.New(color.FgCyan),
	}
	if noColor {
		for _, c := range []*color.Color{l.infoTag, l.successTag, l.warnTag, l.errorTag, l.debugTag} {
			c.DisableColor()
		}
	}
	return l
}

// OpenLogFile starts mirroring output into dir/zimnica-<timestamp>.log
// and prunes older run logs beyond keep (0 disables pruning).
func (l *Logger) OpenLogFile(dir string, keep int) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	name := fmt.Sprintf("zimnica-%s.log", time.Now().Format("20060102-150405"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	l.mu.Lock()
	if l.logFile != nil {
		l.logFile.Close()
	}
	l.logFile = file
	l.mu.Unlock()

	if keep > 0 {
		l.pruneLogs(dir, keep)
	}
	return nil
}

// CloseLogFile stops mirroring and closes the run log.
func (l *Logger) CloseLogFile() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logFile != nil {
		l.logFile.Close()
		l.logFile = nil
	}
}

// pruneLogs deletes the oldest run logs beyond keep. Best-effort.
func (l *Logger) pruneLogs(dir string, keep int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	var logs []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "zimnica-") && strings.HasSuffix(e.Name(), ".log") {
			logs = append(logs, e.Name())
		}
	}
	// Timestamped names sort chronologically
	sort.Strings(logs)
	for len(logs) > keep {
		os.Remove(filepath.Join(dir, logs[0]))
		logs = logs[1:]
	}
}

func (l *Logger) mirror(tag, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logFile == nil {
		return
	}
	fmt.Fprintf(l.logFile, "%s %s %s\n", time.Now().Format("2006-01-02 15:04:05"), tag, msg)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.mirror("[INFO]", msg)
	if l.Quiet {
		return
	}
	fmt.Fprintf(os.Stdout, "%s %s\n", l.infoTag.Sprint("[INFO]"), msg)
}

// Success logs a success message
func (l *Logger) Success(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.mirror("[SUCCESS]", msg)
	if l.Quiet {
		return
	}
	fmt.Fprintf(os.Stdout, "%s %s\n", l.successTag.Sprint("[SUCCESS]"), msg)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.mirror("[WARNING]", msg)
	fmt.Fprintf(os.Stderr, "%s %s\n", l.warnTag.Sprint("[WARNING]"), msg)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.mirror("[ERROR]", msg)
	fmt.Fprintf(os.Stderr, "%s %s\n", l.errorTag.Sprint("[ERROR]"), msg)
}

// Debug logs a debug message (only if verbose is enabled)
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.Verbose {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.mirror("[DEBUG]", msg)
	fmt.Fprintf(os.Stderr, "%s %s\n", l.debugTag.Sprint("[DEBUG]"), msg)
}
