package apprunner

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

const captureLogPrefix = "apprunner:capture"

// DefaultCaptureLimit is the number of bytes an OutputCapture buffers before it
// starts dropping output.
const DefaultCaptureLimit = 1 << 20

// OutputCapture collects whatever a script or handler writes during one
// execution. Output never reaches the client: Flush sends it to the log, one
// record per non-empty line.
type OutputCapture struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	limit   int
	dropped int
	written bool
	logger  *slog.Logger
}

// NewOutputCapture creates a capture logging to logger. A limit <= 0 disables
// the size limit.
func NewOutputCapture(logger *slog.Logger, limit int) *OutputCapture {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutputCapture{logger: logger, limit: limit}
}

// Write buffers p. It always reports success; output beyond the limit is
// dropped with a single warning.
func (c *OutputCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(p) > 0 {
		c.written = true
	}
	keep := p
	if c.limit > 0 && c.buf.Len()+len(p) > c.limit {
		room := c.limit - c.buf.Len()
		if room < 0 {
			room = 0
		}
		keep = p[:room]
		if c.dropped == 0 {
			c.logger.Warn(fmt.Sprintf("%s - output exceeds %d bytes, dropping the rest", captureLogPrefix, c.limit))
		}
		c.dropped += len(p) - room
	}
	if _, err := c.buf.Write(keep); err != nil {
		c.logger.Warn(fmt.Sprintf("%s - failed to buffer output: %v", captureLogPrefix, err))
	}
	return len(p), nil
}

// Written reports whether anything was written since the capture was created.
func (c *OutputCapture) Written() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written
}

// Flush logs the buffered output as "line i/N: content" records and empties
// the buffer. Calling it again without new output logs nothing.
func (c *OutputCapture) Flush() {
	c.mu.Lock()
	out := c.buf.String()
	dropped := c.dropped
	c.buf.Reset()
	c.dropped = 0
	c.mu.Unlock()

	if out == "" {
		return
	}
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	for i, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		c.logger.Info(fmt.Sprintf("%s - line %d/%d: %s", captureLogPrefix, i+1, len(lines), line))
	}
	if dropped > 0 {
		c.logger.Warn(fmt.Sprintf("%s - %d bytes of output were dropped", captureLogPrefix, dropped))
	}
}
