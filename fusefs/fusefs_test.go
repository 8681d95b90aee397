package fusefs

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"testing"

	"github.com/badgeteam/badgefs"
	"github.com/badgeteam/badgefs/vfs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubDevice satisfies vfs.Device for control-file tests; only Run is
// interesting, the rest answer empty.
type stubDevice struct {
	mu   sync.Mutex
	runs []string
}

func (d *stubDevice) List(string) ([]badgefs.DirEntry, error) {
	return nil, badgefs.ErrNotFound
}
func (d *stubDevice) Fetch(string) ([]byte, error)   { return nil, nil }
func (d *stubDevice) WriteFile(string, []byte) error { return nil }
func (d *stubDevice) CreateFile(string) error        { return nil }
func (d *stubDevice) CreateDir(string) error         { return nil }
func (d *stubDevice) Delete(string) error            { return nil }
func (d *stubDevice) Copy(string, string) error      { return nil }
func (d *stubDevice) Move(string, string) error      { return nil }
func (d *stubDevice) SerialIn([]byte) error          { return nil }
func (d *stubDevice) Heartbeat() error               { return nil }
func (d *stubDevice) Console() <-chan []byte         { return nil }
func (d *stubDevice) Close() error                   { return nil }

func (d *stubDevice) Run(p string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.runs = append(d.runs, p)
	return nil
}

func (d *stubDevice) recordedRuns() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.runs...)
}

func TestErrnoOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want syscall.Errno
	}{
		{"nil", nil, 0},
		{"not found", badgefs.ErrNotFound, syscall.ENOENT},
		{"wrapped not found", fmt.Errorf("stat /flash/x: %w", badgefs.ErrNotFound), syscall.ENOENT},
		{"not a directory", badgefs.ErrNotADirectory, syscall.ENOTDIR},
		{"not a file", badgefs.ErrNotAFile, syscall.EISDIR},
		{"already exists", badgefs.ErrAlreadyExists, syscall.EEXIST},
		{"out of range", badgefs.ErrOutOfRange, syscall.EINVAL},
		{"busy", badgefs.ErrBusy, syscall.EBUSY},
		{"timeout", badgefs.ErrTimeout, syscall.ETIMEDOUT},
		{"disconnected", badgefs.ErrDisconnected, syscall.EIO},
		{"unmounted", badgefs.ErrUnmounted, syscall.EIO},
		{"unknown", fmt.Errorf("something else"), syscall.EIO},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, errnoOf(tc.err))
		})
	}
}

func TestRunTarget(t *testing.T) {
	t.Parallel()

	// echo appends a newline; printf may not; CRLF shells exist too.
	assert.Equal(t, "/apps/python/bunny/__init__.py", runTarget([]byte("/apps/python/bunny/__init__.py\n")))
	assert.Equal(t, "/apps/python/bunny/__init__.py", runTarget([]byte("/apps/python/bunny/__init__.py\r\n")))
	assert.Equal(t, "/apps/python/bunny/__init__.py", runTarget([]byte("/apps/python/bunny/__init__.py")))
	assert.Equal(t, "", runTarget([]byte("\n")))
}

func TestRunControlFile(t *testing.T) {
	t.Parallel()

	dev := &stubDevice{}
	node := &runNode{v: vfs.New(dev)}
	ctx := context.Background()

	// One write of an echo-style line issues exactly one remote run with
	// the newline stripped.
	written := []byte("/apps/foo/__init__.py\n")
	n, errno := node.Write(ctx, nil, written, 0)
	require.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, uint32(len(written)), n)
	assert.Equal(t, []string{"/apps/foo/__init__.py"}, dev.recordedRuns())

	// Reading it back yields zero bytes.
	res, errno := node.Read(ctx, nil, make([]byte, 16), 0)
	require.Equal(t, syscall.Errno(0), errno)
	data, status := res.Bytes(make([]byte, 16))
	assert.Equal(t, fuse.OK, status)
	assert.Empty(t, data)

	// It stats as a zero-length regular file.
	var out fuse.AttrOut
	require.Equal(t, syscall.Errno(0), node.Getattr(ctx, nil, &out))
	assert.Zero(t, out.Size)
	assert.Equal(t, uint32(syscall.S_IFREG|0o644), out.Mode)
}

func TestRunControlFile_BlankLineIsNoOp(t *testing.T) {
	t.Parallel()

	dev := &stubDevice{}
	node := &runNode{v: vfs.New(dev)}

	n, errno := node.Write(context.Background(), nil, []byte("\n"), 0)
	require.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, uint32(1), n)
	assert.Empty(t, dev.recordedRuns())
}

func TestDirNodeChildPath(t *testing.T) {
	t.Parallel()

	d := &dirNode{path: "/flash"}
	assert.Equal(t, "/flash/apps", d.child("apps"))

	nested := &dirNode{path: "/flash/apps"}
	assert.Equal(t, "/flash/apps/demo", nested.child("demo"))
}
