package vfs

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/badgeteam/badgefs"
)

// OpenConsole takes exclusive ownership of the device session for
// interactive console pass-through. The remote console is a singleton, so
// a second open fails Busy; ordinary filesystem operations queue on the
// gate until the console closes.
func (v *VFS) OpenConsole() (*Console, error) {
	if v.closed.Load() {
		return nil, badgefs.ErrUnmounted
	}
	if !v.consoleOpen.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("console: %w", badgefs.ErrBusy)
	}

	v.gate.Lock()
	if v.closed.Load() {
		v.gate.Unlock()
		v.consoleOpen.Store(false)
		return nil, badgefs.ErrUnmounted
	}
	return &Console{v: v}, nil
}

// Console is a duplex byte channel to the badge's interactive Python
// shell, multiplexed onto the session outside the normal request/response
// exchanges. It holds the gate from open to Close.
type Console struct {
	v *VFS

	mu   sync.Mutex
	left []byte
	eof  bool

	closeOnce sync.Once
}

// Write feeds raw bytes to the badge console.
func (c *Console) Write(p []byte) (int, error) {
	if err := c.v.dev.SerialIn(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Read blocks until console output is available. Returns io.EOF when the
// session ends.
func (c *Console) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.left) == 0 {
		chunk, ok := <-c.v.dev.Console()
		if !ok {
			return 0, io.EOF
		}
		c.left = append(c.left, crlf(chunk)...)
	}
	n := copy(p, c.left)
	c.left = c.left[n:]
	return n, nil
}

// TryRead copies buffered console output without blocking. Returns
// io.EOF once the session ended and the buffer drained. Used by the
// filesystem adapter, which polls instead of stalling a kernel thread.
func (c *Console) TryRead(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

drain:
	for {
		select {
		case chunk, ok := <-c.v.dev.Console():
			if !ok {
				c.eof = true
				break drain
			}
			c.left = append(c.left, crlf(chunk)...)
		default:
			break drain
		}
	}
	n := copy(p, c.left)
	c.left = c.left[n:]
	if n == 0 && c.eof {
		return 0, io.EOF
	}
	return n, nil
}

// Close releases the gate and frees the console slot for a later open.
// Safe to call more than once.
func (c *Console) Close() error {
	c.closeOnce.Do(func() {
		c.v.gate.Unlock()
		c.v.consoleOpen.Store(false)
	})
	return nil
}

// crlf normalizes badge output for terminal display: some firmware lines
// arrive with bare newlines, some with full CRLF.
func crlf(b []byte) []byte {
	b = bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(b, []byte("\n"), []byte("\r\n"))
}
