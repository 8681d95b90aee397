package fusefs

import (
	"context"
	"strings"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/badgeteam/badgefs/config"
	"github.com/badgeteam/badgefs/internal/util"
	"github.com/badgeteam/badgefs/vfs"
)

// runNode is the "run" control file at the mount root. Writing an app
// path starts it on the badge: `echo apps.python.bunny > run`. Trailing
// line endings from echo are stripped; reading it back yields nothing.
type runNode struct {
	fs.Inode
	v *vfs.VFS
}

var _ fs.InodeEmbedder = (*runNode)(nil)
var _ fs.NodeGetattrer = (*runNode)(nil)
var _ fs.NodeOpener = (*runNode)(nil)
var _ fs.NodeReader = (*runNode)(nil)
var _ fs.NodeWriter = (*runNode)(nil)

func (r *runNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFREG | 0o644
	return 0
}

func (r *runNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	return nil, fuse.FOPEN_DIRECT_IO, 0
}

func (r *runNode) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	return fuse.ReadResultData(nil), 0
}

func (r *runNode) Write(ctx context.Context, fh fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	target := runTarget(data)
	if target == "" {
		return uint32(len(data)), 0
	}
	if err := r.v.Run(target); err != nil {
		return 0, errnoOf(err)
	}
	return uint32(len(data)), 0
}

// runTarget extracts the app path from a write to the run file.
func runTarget(data []byte) string {
	return strings.TrimRight(string(data), "\r\n")
}

// serialNode is the "serial" control file at the mount root. Opening it
// attaches to the device console for the lifetime of the handle, during
// which all other device traffic queues. One console at a time: a
// second open fails EBUSY.
type serialNode struct {
	fs.Inode
	v    *vfs.VFS
	poll time.Duration
}

var _ fs.InodeEmbedder = (*serialNode)(nil)
var _ fs.NodeGetattrer = (*serialNode)(nil)
var _ fs.NodeOpener = (*serialNode)(nil)

func (s *serialNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFREG | 0o644
	// The console is unbounded; a huge size keeps `tail -f` style
	// readers from deciding they reached the end.
	out.Size = 0xffffffff
	return 0
}

func (s *serialNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	con, err := s.v.OpenConsole()
	if err != nil {
		return nil, 0, errnoOf(err)
	}
	poll := s.poll
	if poll <= 0 {
		poll = config.DefaultConsolePollInterval
	}
	return &serialHandle{con: con, poll: poll, logger: util.GetLogger("serial")}, fuse.FOPEN_DIRECT_IO, 0
}

// serialHandle owns one console session. The handle, not the node,
// carries the session so Release maps 1:1 to console close.
type serialHandle struct {
	con    *vfs.Console
	poll   time.Duration
	logger util.Logger
}

var _ fs.FileReader = (*serialHandle)(nil)
var _ fs.FileWriter = (*serialHandle)(nil)
var _ fs.FileReleaser = (*serialHandle)(nil)

func (h *serialHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	// Poll rather than block: a blocked handler would pin a FUSE
	// request across the whole wait and ignore interruption.
	for {
		n, err := h.con.TryRead(dest)
		if err != nil {
			// Session ended; signal end of stream.
			return fuse.ReadResultData(nil), 0
		}
		if n > 0 {
			return fuse.ReadResultData(dest[:n]), 0
		}
		select {
		case <-ctx.Done():
			return nil, syscall.EINTR
		case <-time.After(h.poll):
		}
	}
}

func (h *serialHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := h.con.Write(data)
	if err != nil {
		return 0, errnoOf(err)
	}
	return uint32(n), 0
}

func (h *serialHandle) Release(ctx context.Context) syscall.Errno {
	if err := h.con.Close(); err != nil {
		h.logger.Warn().Err(err).Msg("console close failed")
	}
	return 0
}
