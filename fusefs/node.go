package fusefs

import (
	"context"
	"errors"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/badgeteam/badgefs"
	"github.com/badgeteam/badgefs/vfs"
)

const (
	dirMode  = syscall.S_IFDIR | 0o755
	fileMode = syscall.S_IFREG | 0o644
)

// rootNode is the mount root. Its children are fixed: the two storage
// roots plus the run and serial control files. The device itself cannot
// list or modify the root, so nothing here is dynamic.
type rootNode struct {
	fs.Inode
	v           *vfs.VFS
	consolePoll time.Duration
}

var _ fs.InodeEmbedder = (*rootNode)(nil)
var _ fs.NodeOnAdder = (*rootNode)(nil)

func (r *rootNode) OnAdd(ctx context.Context) {
	for _, name := range []string{"flash", "sdcard"} {
		child := r.NewPersistentInode(ctx, &dirNode{v: r.v, path: "/" + name},
			fs.StableAttr{Mode: syscall.S_IFDIR})
		r.AddChild(name, child, true)
	}
	r.AddChild("run", r.NewPersistentInode(ctx, &runNode{v: r.v},
		fs.StableAttr{Mode: syscall.S_IFREG}), true)
	r.AddChild("serial", r.NewPersistentInode(ctx, &serialNode{v: r.v, poll: r.consolePoll},
		fs.StableAttr{Mode: syscall.S_IFREG}), true)
}

// dirNode is a directory on the device, addressed by its full path.
type dirNode struct {
	fs.Inode
	v    *vfs.VFS
	path string
}

var _ fs.InodeEmbedder = (*dirNode)(nil)
var _ fs.NodeLookuper = (*dirNode)(nil)
var _ fs.NodeReaddirer = (*dirNode)(nil)
var _ fs.NodeGetattrer = (*dirNode)(nil)
var _ fs.NodeMkdirer = (*dirNode)(nil)
var _ fs.NodeCreater = (*dirNode)(nil)
var _ fs.NodeUnlinker = (*dirNode)(nil)
var _ fs.NodeRmdirer = (*dirNode)(nil)
var _ fs.NodeRenamer = (*dirNode)(nil)

func (d *dirNode) child(name string) string {
	return d.path + "/" + name
}

func (d *dirNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = dirMode
	return 0
}

func (d *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := d.child(name)
	meta, err := d.v.Stat(p)
	if err != nil {
		return nil, errnoOf(err)
	}

	if meta.Kind == badgefs.KindDirectory {
		out.Mode = dirMode
		child := d.NewInode(ctx, &dirNode{v: d.v, path: p},
			fs.StableAttr{Mode: syscall.S_IFDIR})
		return child, 0
	}

	out.Mode = fileMode
	out.Size = meta.Size
	child := d.NewInode(ctx, &fileNode{v: d.v, path: p},
		fs.StableAttr{Mode: syscall.S_IFREG})
	return child, 0
}

func (d *dirNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, err := d.v.List(d.path)
	if err != nil {
		return nil, errnoOf(err)
	}

	out := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		mode := uint32(syscall.S_IFREG)
		if e.Kind == badgefs.KindDirectory {
			mode = syscall.S_IFDIR
		}
		out = append(out, fuse.DirEntry{Name: e.Name, Mode: mode})
	}
	return fs.NewListDirStream(out), 0
}

func (d *dirNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := d.child(name)
	if err := d.v.Create(p, badgefs.KindDirectory); err != nil {
		return nil, errnoOf(err)
	}
	out.Mode = dirMode
	child := d.NewInode(ctx, &dirNode{v: d.v, path: p},
		fs.StableAttr{Mode: syscall.S_IFDIR})
	return child, 0
}

func (d *dirNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	p := d.child(name)
	if err := d.v.Create(p, badgefs.KindFile); err != nil {
		return nil, nil, 0, errnoOf(err)
	}
	out.Mode = fileMode
	node := &fileNode{v: d.v, path: p}
	child := d.NewInode(ctx, node, fs.StableAttr{Mode: syscall.S_IFREG})
	// No page cache: sizes resolve lazily and another host may hold the
	// badge between mounts.
	return child, nil, fuse.FOPEN_DIRECT_IO, 0
}

func (d *dirNode) Unlink(ctx context.Context, name string) syscall.Errno {
	return errnoOf(d.v.Delete(d.child(name)))
}

func (d *dirNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return errnoOf(d.v.Delete(d.child(name)))
}

func (d *dirNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	target, ok := newParent.(*dirNode)
	if !ok {
		// The mount root holds only the fixed control entries.
		return syscall.EPERM
	}
	return errnoOf(d.v.Rename(d.child(name), target.child(newName)))
}

// fileNode is a regular file on the device. Reads and writes go through
// the full-content cache underneath; the kernel page cache is bypassed.
type fileNode struct {
	fs.Inode
	v    *vfs.VFS
	path string
}

var _ fs.InodeEmbedder = (*fileNode)(nil)
var _ fs.NodeGetattrer = (*fileNode)(nil)
var _ fs.NodeSetattrer = (*fileNode)(nil)
var _ fs.NodeOpener = (*fileNode)(nil)
var _ fs.NodeReader = (*fileNode)(nil)
var _ fs.NodeWriter = (*fileNode)(nil)

func (f *fileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	meta, err := f.v.Stat(f.path)
	if err != nil {
		return errnoOf(err)
	}
	out.Mode = fileMode
	out.Size = meta.Size
	return 0
}

func (f *fileNode) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		if err := f.v.Truncate(f.path, size); err != nil {
			return errnoOf(err)
		}
	}
	// Ownership, mode and times have no device-side representation.
	return f.Getattr(ctx, fh, out)
}

func (f *fileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&syscall.O_TRUNC != 0 {
		if err := f.v.Truncate(f.path, 0); err != nil {
			return nil, 0, errnoOf(err)
		}
	}
	return nil, fuse.FOPEN_DIRECT_IO, 0
}

func (f *fileNode) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, err := f.v.Read(f.path, off, len(dest))
	if err != nil {
		// Reading past the end is a short read, not an error.
		if errors.Is(err, badgefs.ErrOutOfRange) {
			return fuse.ReadResultData(nil), 0
		}
		return nil, errnoOf(err)
	}
	return fuse.ReadResultData(data), 0
}

func (f *fileNode) Write(ctx context.Context, fh fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	if err := f.v.Write(f.path, off, data); err != nil {
		return 0, errnoOf(err)
	}
	return uint32(len(data)), 0
}
