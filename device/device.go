// Package device implements the typed badge protocol client: one method
// per remote capability, layered on the transport's framed exchanges.
package device

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/badgeteam/badgefs"
	"github.com/badgeteam/badgefs/config"
	"github.com/badgeteam/badgefs/internal/util"
	"github.com/badgeteam/badgefs/transport"
)

// ErrCommandFailed is returned when the device answered an operation with
// a non-ok status. The protocol carries no reason.
var ErrCommandFailed = errors.New("device reported failure")

// missingDirSentinel is the literal payload the firmware sends for a
// listing of a directory that does not exist.
const missingDirSentinel = "Directory_not_found"

var statusOK = []byte("ok\x00")

// Conn is the transport surface the client needs. Satisfied by
// [transport.Transport].
type Conn interface {
	Roundtrip(op uint16, payload []byte) (transport.Frame, error)
	Notify(op uint16, payload []byte) error
	Console() <-chan []byte
	Done() <-chan struct{}
	Close() error
}

// Client issues typed remote operations. It also runs the keepalive the
// firmware needs to consider the session alive.
type Client struct {
	conn   Conn
	logger util.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

// NewClient wraps an open transport. When the config enables it, a
// keepalive loop starts immediately and runs until Close.
func NewClient(conn Conn, cfg *config.Config) *Client {
	c := &Client{
		conn:   conn,
		logger: util.GetLogger("device"),
		stop:   make(chan struct{}),
	}
	if cfg.HeartbeatInterval > 0 {
		go c.keepalive(cfg.HeartbeatInterval)
	}
	return c
}

// Close stops the keepalive and tears the transport down.
func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return c.conn.Close()
}

func (c *Client) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.conn.Notify(transport.OpHeartbeat, cstr("beat")); err != nil {
				c.logger.Debug().Err(err).Msg("Keepalive stopped")
				return
			}
		case <-c.stop:
			return
		case <-c.conn.Done():
			return
		}
	}
}

// Heartbeat sends a synchronous keepalive and waits for the ok status.
// Used as a liveness probe when the session opens.
func (c *Client) Heartbeat() error {
	return c.ensureOK(transport.OpHeartbeat, cstr("beat"))
}

// List fetches one directory listing. Entry order is whatever the device
// produced; nothing guarantees it is stable across calls.
func (c *Client) List(path string) ([]badgefs.DirEntry, error) {
	// The firmware rejects trailing slashes on listing paths.
	f, err := c.conn.Roundtrip(transport.OpFetchDir, cstr(strings.TrimSuffix(path, "/")))
	if err != nil {
		return nil, err
	}

	text := string(f.Payload)
	if text == missingDirSentinel {
		return nil, fmt.Errorf("list %s: %w", path, badgefs.ErrNotFound)
	}

	// First field echoes the requested path; each following line is a
	// kind marker byte ('f' or 'd') glued to the entry name.
	lines := strings.Split(text, "\n")
	entries := make([]badgefs.DirEntry, 0, len(lines)-1)
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		switch line[0] {
		case 'f':
			entries = append(entries, badgefs.DirEntry{Name: line[1:], Kind: badgefs.KindFile})
		case 'd':
			entries = append(entries, badgefs.DirEntry{Name: line[1:], Kind: badgefs.KindDirectory})
		default:
			return nil, fmt.Errorf("list %s: entry %q: %w", path, line, badgefs.ErrMalformed)
		}
	}
	return entries, nil
}

// Fetch retrieves a file's entire contents. The protocol has no partial
// read, so this is also how file size gets resolved.
//
// Firmware quirk: fetching a missing path returns the literal text
// "Can't open file" as contents, indistinguishable from a real file
// holding that text. Existence must be decided from the parent listing,
// never from fetch output.
func (c *Client) Fetch(path string) ([]byte, error) {
	f, err := c.conn.Roundtrip(transport.OpFetchFile, cstr(path))
	if err != nil {
		return nil, err
	}
	return f.Payload, nil
}

// WriteFile replaces the file's entire contents, creating it if needed.
func (c *Client) WriteFile(path string, data []byte) error {
	payload := append(cstr(path), data...)
	return c.ensureOK(transport.OpWriteFile, payload)
}

// CreateFile creates an empty file. Same opcode as WriteFile with no data.
func (c *Client) CreateFile(path string) error {
	return c.ensureOK(transport.OpWriteFile, cstr(path))
}

// CreateDir creates a directory.
func (c *Client) CreateDir(path string) error {
	return c.ensureOK(transport.OpCreateDir, cstr(path))
}

// Delete removes a file or directory.
func (c *Client) Delete(path string) error {
	return c.ensureOK(transport.OpDelete, cstr(path))
}

// Copy duplicates a file device-side, without the bytes crossing the wire.
func (c *Client) Copy(from, to string) error {
	return c.ensureOK(transport.OpCopyFile, append(cstr(from), cstr(to)...))
}

// Move renames a file or directory.
func (c *Client) Move(from, to string) error {
	return c.ensureOK(transport.OpMoveFile, append(cstr(from), cstr(to)...))
}

// Run starts the Python app at path on the badge. Paths are rooted at
// /flash without the prefix, e.g. /apps/foo/__init__.py.
func (c *Client) Run(path string) error {
	return c.ensureOK(transport.OpRunFile, cstr(path))
}

// SerialIn feeds raw bytes to the badge's interactive console.
func (c *Client) SerialIn(data []byte) error {
	return c.ensureOK(transport.OpSerialIn, data)
}

// Console returns the stream of unsolicited console output chunks.
func (c *Client) Console() <-chan []byte {
	return c.conn.Console()
}

func (c *Client) ensureOK(op uint16, payload []byte) error {
	f, err := c.conn.Roundtrip(op, payload)
	if err != nil {
		return err
	}
	if !bytes.Equal(f.Payload, statusOK) {
		c.logger.Debug().Uint16("op", op).Bytes("status", f.Payload).Msg("Command rejected")
		return fmt.Errorf("op %d: %w", op, ErrCommandFailed)
	}
	return nil
}

// cstr encodes a nul-terminated string the way the firmware expects.
func cstr(s string) []byte {
	return append([]byte(s), 0)
}
