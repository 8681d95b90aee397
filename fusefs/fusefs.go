// Package fusefs exposes a mounted badge over FUSE. The tree mirrors
// the device's two storage roots and adds two control files at the
// mount root: writing an app path to "run" starts it on the badge, and
// opening "serial" attaches to the device console.
package fusefs

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/badgeteam/badgefs"
	"github.com/badgeteam/badgefs/config"
	"github.com/badgeteam/badgefs/internal/util"
	"github.com/badgeteam/badgefs/vfs"
)

// Mount mounts the badge filesystem at mountpoint and returns the
// running server. The caller serves it with Wait and tears down with
// Unmount.
func Mount(mountpoint string, v *vfs.VFS, cfg *config.Config) (*fuse.Server, error) {
	if mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}

	attrTimeout := time.Duration(cfg.AttrTimeout * float64(time.Second))
	entryTimeout := time.Duration(cfg.EntryTimeout * float64(time.Second))

	root := &rootNode{v: v, consolePoll: cfg.ConsolePollInterval}
	server, err := fs.Mount(mountpoint, root, &fs.Options{
		AttrTimeout:  &attrTimeout,
		EntryTimeout: &entryTimeout,
		MountOptions: fuse.MountOptions{
			Debug:  cfg.MountOptions.Debug,
			FsName: cfg.MountOptions.FsName,
			Name:   cfg.MountOptions.Name,
			Logger: util.NewLogLogger("fuse", cfg.LogLvl),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting at %s: %w", mountpoint, err)
	}
	return server, nil
}

// errnoOf translates the filesystem layer's error taxonomy to errnos.
// Anything unrecognized, including a dead device session, is EIO.
func errnoOf(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, badgefs.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, badgefs.ErrNotADirectory):
		return syscall.ENOTDIR
	case errors.Is(err, badgefs.ErrNotAFile):
		return syscall.EISDIR
	case errors.Is(err, badgefs.ErrAlreadyExists):
		return syscall.EEXIST
	case errors.Is(err, badgefs.ErrOutOfRange):
		return syscall.EINVAL
	case errors.Is(err, badgefs.ErrBusy):
		return syscall.EBUSY
	case errors.Is(err, badgefs.ErrTimeout):
		return syscall.ETIMEDOUT
	default:
		return syscall.EIO
	}
}
