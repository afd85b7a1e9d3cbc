package collector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ernie/warden/internal/metrics"
)

const readChunk = 32 * 1024

// LogTailer follows a log file by polling. Incomplete trailing lines are
// held back until their newline arrives, and rotation (by rename or
// truncation) restarts reading at the top of the new file.
type LogTailer struct {
	path     string
	name     string
	interval time.Duration

	file     *os.File
	info     os.FileInfo
	position int64
	partial  []byte

	Lines chan string
}

// NewLogTailer creates a tailer for path. name labels logs and metrics.
func NewLogTailer(path, name string, interval time.Duration) *LogTailer {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &LogTailer{
		path:     path,
		name:     name,
		interval: interval,
		Lines:    make(chan string, 256),
	}
}

// Open opens the log file, positioned at the end unless fromStart is set
func (t *LogTailer) Open(fromStart bool) error {
	file, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat log file: %w", err)
	}

	if t.file != nil {
		t.file.Close()
	}
	t.file = file
	t.info = info
	t.partial = nil
	t.position = 0
	if !fromStart {
		t.position = info.Size()
	}
	return nil
}

// Close releases the file
func (t *LogTailer) Close() error {
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}

// Poll reads everything appended since the last call and returns the
// complete lines
func (t *LogTailer) Poll() ([]string, error) {
	if t.file == nil {
		// the file did not exist when we started; read it whole once it does
		if err := t.Open(true); err != nil {
			return nil, err
		}
	}

	current, err := t.file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat log file: %w", err)
	}
	if current.Size() < t.position {
		log.Info().Str("server", t.name).Str("path", t.path).Msg("Log truncated, reading from start")
		metrics.LogRotationsTotal.WithLabelValues(t.name).Inc()
		t.position = 0
		t.partial = nil
	}

	lines, err := t.readAvailable()
	if err != nil {
		return lines, err
	}

	onDisk, err := os.Stat(t.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// rotated away and not yet recreated
			return lines, nil
		}
		return lines, fmt.Errorf("stat log path: %w", err)
	}
	if !os.SameFile(t.info, onDisk) {
		log.Info().Str("server", t.name).Str("path", t.path).Msg("Log rotated, reopening")
		metrics.LogRotationsTotal.WithLabelValues(t.name).Inc()
		if err := t.Open(true); err != nil {
			return lines, err
		}
		more, err := t.readAvailable()
		lines = append(lines, more...)
		if err != nil {
			return lines, err
		}
	}
	return lines, nil
}

func (t *LogTailer) readAvailable() ([]string, error) {
	buf := make([]byte, readChunk)
	for {
		n, err := t.file.ReadAt(buf, t.position)
		if n > 0 {
			t.position += int64(n)
			t.partial = append(t.partial, buf[:n]...)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return t.splitLines(), fmt.Errorf("reading log file: %w", err)
		}
	}
	return t.splitLines(), nil
}

// splitLines cuts complete lines off the front of the pending buffer
func (t *LogTailer) splitLines() []string {
	var lines []string
	for {
		i := bytes.IndexByte(t.partial, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(t.partial[:i], "\r")
		t.partial = t.partial[i+1:]
		if len(bytes.TrimSpace(line)) > 0 {
			lines = append(lines, string(line))
		}
	}
	if len(t.partial) == 0 {
		t.partial = nil
	}
	return lines
}

// Run polls until ctx is cancelled, sending lines in order. Lines is
// closed on return.
func (t *LogTailer) Run(ctx context.Context) {
	defer close(t.Lines)
	defer t.Close()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	var lastErr string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		lines, err := t.Poll()
		if err != nil && err.Error() != lastErr {
			log.Warn().Err(err).Str("server", t.name).Str("path", t.path).Msg("Log tail error")
		}
		lastErr = ""
		if err != nil {
			lastErr = err.Error()
		}

		for _, line := range lines {
			select {
			case t.Lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}
}
