package device

import (
	"sync"
	"testing"
	"time"

	"github.com/badgeteam/badgefs"
	"github.com/badgeteam/badgefs/config"
	"github.com/badgeteam/badgefs/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn records exchanges and serves canned responses per opcode.
type fakeConn struct {
	mu        sync.Mutex
	calls     []transport.Frame
	responses map[uint16][]byte
	console   chan []byte
	done      chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		responses: map[uint16][]byte{},
		console:   make(chan []byte, 8),
		done:      make(chan struct{}),
	}
}

func (f *fakeConn) Roundtrip(op uint16, payload []byte) (transport.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, transport.Frame{Op: op, Payload: payload})
	resp, ok := f.responses[op]
	if !ok {
		resp = []byte("ok\x00")
	}
	return transport.Frame{Op: op, MsgID: uint32(len(f.calls)), Payload: resp}, nil
}

func (f *fakeConn) Notify(op uint16, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, transport.Frame{Op: op, Payload: payload})
	return nil
}

func (f *fakeConn) recorded() []transport.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Frame(nil), f.calls...)
}

func (f *fakeConn) Console() <-chan []byte { return f.console }
func (f *fakeConn) Done() <-chan struct{}  { return f.done }
func (f *fakeConn) Close() error           { return nil }

func newTestClient(conn Conn) *Client {
	cfg := config.NewDefaultConfig()
	cfg.HeartbeatInterval = 0
	return NewClient(conn, cfg)
}

func TestClient_List(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	conn.responses[transport.OpFetchDir] = []byte("/flash\nfboot.py\ndapps\nfREADME.md")
	c := newTestClient(conn)

	entries, err := c.List("/flash/")
	require.NoError(t, err)
	assert.Equal(t, []badgefs.DirEntry{
		{Name: "boot.py", Kind: badgefs.KindFile},
		{Name: "apps", Kind: badgefs.KindDirectory},
		{Name: "README.md", Kind: badgefs.KindFile},
	}, entries)

	// Trailing slash must be stripped before hitting the wire.
	require.Len(t, conn.calls, 1)
	assert.Equal(t, []byte("/flash\x00"), conn.calls[0].Payload)
}

func TestClient_List_NotFound(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	conn.responses[transport.OpFetchDir] = []byte("Directory_not_found")
	c := newTestClient(conn)

	_, err := c.List("/flash/nope")
	require.ErrorIs(t, err, badgefs.ErrNotFound)
}

func TestClient_List_MalformedEntry(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	conn.responses[transport.OpFetchDir] = []byte("/flash\nxwhat")
	c := newTestClient(conn)

	_, err := c.List("/flash")
	require.ErrorIs(t, err, badgefs.ErrMalformed)
}

func TestClient_List_EmptyDirectory(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	conn.responses[transport.OpFetchDir] = []byte("/flash/empty")
	c := newTestClient(conn)

	entries, err := c.List("/flash/empty")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestClient_WriteFile_PayloadShape(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	c := newTestClient(conn)

	require.NoError(t, c.WriteFile("/flash/a.txt", []byte("data")))
	require.Len(t, conn.calls, 1)
	assert.Equal(t, transport.OpWriteFile, conn.calls[0].Op)
	assert.Equal(t, []byte("/flash/a.txt\x00data"), conn.calls[0].Payload)
}

func TestClient_Move_PayloadShape(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	c := newTestClient(conn)

	require.NoError(t, c.Move("/flash/x", "/flash/y"))
	require.Len(t, conn.calls, 1)
	assert.Equal(t, transport.OpMoveFile, conn.calls[0].Op)
	assert.Equal(t, []byte("/flash/x\x00/flash/y\x00"), conn.calls[0].Payload)
}

func TestClient_CommandFailure(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	conn.responses[transport.OpDelete] = []byte("error")
	c := newTestClient(conn)

	err := c.Delete("/flash/readonly")
	require.ErrorIs(t, err, ErrCommandFailed)
}

func TestClient_Fetch_PassesContentsThrough(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	conn.responses[transport.OpFetchFile] = []byte("print('hi')\n")
	c := newTestClient(conn)

	data, err := c.Fetch("/flash/boot.py")
	require.NoError(t, err)
	assert.Equal(t, []byte("print('hi')\n"), data)
}

func TestClient_Keepalive(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	cfg := config.NewDefaultConfig()
	cfg.HeartbeatInterval = 5 * time.Millisecond
	c := NewClient(conn, cfg)
	defer c.Close()

	assert.Eventually(t, func() bool {
		for _, f := range conn.recorded() {
			if f.Op == transport.OpHeartbeat {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}
