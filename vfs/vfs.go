// Package vfs is the choke point all filesystem-shaped access funnels
// through: the one-shot CLI commands and the FUSE adapter both sit on
// top of it. It guarantees at most one device exchange in flight at a
// time, resolves file sizes lazily (the protocol has no stat), and keeps
// the metadata cache coherent across mutations.
package vfs

import (
	"errors"
	"fmt"
	"path"
	"sync"
	"sync/atomic"

	"github.com/badgeteam/badgefs"
	"github.com/badgeteam/badgefs/cache"
	"github.com/badgeteam/badgefs/internal/util"
)

// Device is the capability set the VFS needs from the protocol client.
// Satisfied by [device.Client].
type Device interface {
	List(path string) ([]badgefs.DirEntry, error)
	Fetch(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	CreateFile(path string) error
	CreateDir(path string) error
	Delete(path string) error
	Copy(from, to string) error
	Move(from, to string) error
	Run(path string) error
	SerialIn(data []byte) error
	Heartbeat() error
	Console() <-chan []byte
	Close() error
}

// rootEntries is the synthesized top level: the device cannot list "/",
// it only knows the flash and sdcard roots.
func rootEntries() []badgefs.DirEntry {
	return []badgefs.DirEntry{
		{Name: "flash", Kind: badgefs.KindDirectory},
		{Name: "sdcard", Kind: badgefs.KindDirectory},
	}
}

// VFS serializes all device access behind a single gate. Operations that
// are answered from the cache bypass the gate entirely; everything that
// touches the device queues on it. The console holds the gate for its
// whole open duration, so filesystem operations issued while a console
// session is live block until it closes.
type VFS struct {
	dev    Device
	cache  *cache.Cache
	logger util.Logger

	gate sync.Mutex

	consoleOpen atomic.Bool
	closed      atomic.Bool
}

func New(dev Device) *VFS {
	return &VFS{
		dev:    dev,
		cache:  cache.New(),
		logger: util.GetLogger("vfs"),
	}
}

// Probe checks device liveness with a synchronous heartbeat. Called once
// after the session opens, before the first real operation.
func (v *VFS) Probe() error {
	if err := v.lock(); err != nil {
		return err
	}
	defer v.gate.Unlock()
	return v.dev.Heartbeat()
}

// Close marks the session as torn down and closes the device client.
// Operations observed after this fail with ErrUnmounted; callers already
// queued on the gate drain first.
func (v *VFS) Close() error {
	if v.closed.Swap(true) {
		return nil
	}
	return v.dev.Close()
}

// Stat resolves metadata for a path. Directory kind comes from the
// parent's listing; file size requires fetching the full contents (the
// device protocol has no cheaper way), which are cached so an imminent
// open does not fetch twice.
func (v *VFS) Stat(p string) (badgefs.FileMetadata, error) {
	p = clean(p)
	if isSyntheticDir(p) {
		return badgefs.FileMetadata{Kind: badgefs.KindDirectory}, nil
	}

	kind, err := v.kindOf(p)
	if err != nil {
		return badgefs.FileMetadata{}, err
	}
	if kind == badgefs.KindDirectory {
		return badgefs.FileMetadata{Kind: badgefs.KindDirectory}, nil
	}

	if size, ok := v.cache.Size(p); ok {
		return badgefs.FileMetadata{Kind: badgefs.KindFile, Size: size, SizeKnown: true}, nil
	}
	content, err := v.fileContent(p)
	if err != nil {
		return badgefs.FileMetadata{}, err
	}
	return badgefs.FileMetadata{Kind: badgefs.KindFile, Size: uint64(len(content)), SizeKnown: true}, nil
}

// List returns the directory listing for p, cache-first.
func (v *VFS) List(p string) ([]badgefs.DirEntry, error) {
	p = clean(p)
	if p == "/" {
		return rootEntries(), nil
	}

	if entries, ok := v.cache.Listing(p); ok {
		return entries, nil
	}

	// When the parent listing already tells us p is a file, skip the
	// device roundtrip that would answer with its not-found sentinel.
	if entries, ok := v.cache.Listing(parentOf(p)); ok {
		for _, e := range entries {
			if e.Name == path.Base(p) && e.Kind == badgefs.KindFile {
				return nil, fmt.Errorf("list %s: %w", p, badgefs.ErrNotADirectory)
			}
		}
	}

	if err := v.lock(); err != nil {
		return nil, err
	}
	defer v.gate.Unlock()

	entries, err := v.dev.List(p)
	if err != nil {
		return nil, err
	}
	v.cache.PutListing(p, entries)
	return entries, nil
}

// Read returns up to length bytes starting at offset. A negative length
// reads through end of file. Reads past a resolved size fail OutOfRange;
// reading exactly at the end returns no bytes.
func (v *VFS) Read(p string, offset int64, length int) ([]byte, error) {
	p = clean(p)
	content, err := v.fileContent(p)
	if err != nil {
		return nil, err
	}

	if offset > int64(len(content)) {
		return nil, fmt.Errorf("read %s at %d: %w", p, offset, badgefs.ErrOutOfRange)
	}
	rest := content[offset:]
	if length < 0 || length > len(rest) {
		return rest, nil
	}
	return rest[:length], nil
}

// ReadAll returns the whole file.
func (v *VFS) ReadAll(p string) ([]byte, error) {
	return v.Read(p, 0, -1)
}

// Write stores data at offset. The device only supports whole-file
// replace, so a partial write materializes the current contents, patches
// them, and uploads the full image; a gap past the current end is
// zero-filled. Writing at offset 0 to a missing path creates the file
// (matching the device's write-is-create opcode); any other offset on a
// missing path fails NotFound. Cached metadata for p is invalidated
// rather than patched, whether the upload succeeded or not, so the next
// stat re-reads whatever the device actually stored.
func (v *VFS) Write(p string, offset int64, data []byte) error {
	p = clean(p)

	var current []byte
	kind, err := v.kindOf(p)
	switch {
	case err == nil:
		if kind == badgefs.KindDirectory {
			return fmt.Errorf("write %s: %w", p, badgefs.ErrNotAFile)
		}
		current, err = v.fileContent(p)
		if err != nil {
			return err
		}
	case errors.Is(err, badgefs.ErrNotFound) && offset == 0:
		current = nil
	default:
		return err
	}

	image := patch(current, offset, data)

	if err := v.lock(); err != nil {
		return err
	}
	defer v.gate.Unlock()

	// A failed write may still have applied device-side (a timeout racing
	// the reply), so the cached image is suspect either way.
	err = v.dev.WriteFile(p, image)
	v.cache.Invalidate(p)
	return err
}

// Truncate sets the file length, zero-extending when it grows.
func (v *VFS) Truncate(p string, size uint64) error {
	p = clean(p)
	current, err := v.fileContent(p)
	if err != nil {
		return err
	}
	if uint64(len(current)) == size {
		return nil
	}

	image := make([]byte, size)
	copy(image, current)

	if err := v.lock(); err != nil {
		return err
	}
	defer v.gate.Unlock()

	err = v.dev.WriteFile(p, image)
	v.cache.Invalidate(p)
	return err
}

// Create makes a new empty file or directory. A path that already exists
// fails AlreadyExists; this layer never truncates through create.
func (v *VFS) Create(p string, kind badgefs.EntryKind) error {
	p = clean(p)
	if isSyntheticDir(p) {
		return fmt.Errorf("create %s: %w", p, badgefs.ErrAlreadyExists)
	}

	_, err := v.kindOf(p)
	switch {
	case err == nil:
		return fmt.Errorf("create %s: %w", p, badgefs.ErrAlreadyExists)
	case errors.Is(err, badgefs.ErrNotFound):
	default:
		return err
	}

	if err := v.lock(); err != nil {
		return err
	}
	defer v.gate.Unlock()

	if kind == badgefs.KindDirectory {
		err = v.dev.CreateDir(p)
	} else {
		err = v.dev.CreateFile(p)
	}
	if err != nil {
		return err
	}
	v.cache.Invalidate(p)
	return nil
}

// Delete removes a file or directory tree.
func (v *VFS) Delete(p string) error {
	p = clean(p)
	if isSyntheticDir(p) {
		return fmt.Errorf("delete %s: %w", p, badgefs.ErrNotAFile)
	}
	if _, err := v.kindOf(p); err != nil {
		return err
	}

	if err := v.lock(); err != nil {
		return err
	}
	defer v.gate.Unlock()

	if err := v.dev.Delete(p); err != nil {
		return err
	}
	v.cache.InvalidateTree(p)
	return nil
}

// Rename moves oldPath to newPath. Both subtrees' cache entries are
// dropped: names under both parents may have appeared or disappeared.
func (v *VFS) Rename(oldPath, newPath string) error {
	oldPath, newPath = clean(oldPath), clean(newPath)
	if isSyntheticDir(oldPath) || isSyntheticDir(newPath) {
		return fmt.Errorf("rename %s: %w", oldPath, badgefs.ErrNotFound)
	}
	if _, err := v.kindOf(oldPath); err != nil {
		return err
	}

	if err := v.lock(); err != nil {
		return err
	}
	defer v.gate.Unlock()

	if err := v.dev.Move(oldPath, newPath); err != nil {
		return err
	}
	v.cache.InvalidateTree(oldPath)
	v.cache.InvalidateTree(newPath)
	return nil
}

// CopyFile duplicates a remote file using the device's native copy, so
// the contents never cross the wire.
func (v *VFS) CopyFile(src, dst string) error {
	src, dst = clean(src), clean(dst)
	kind, err := v.kindOf(src)
	if err != nil {
		return err
	}
	if kind == badgefs.KindDirectory {
		return fmt.Errorf("copy %s: %w", src, badgefs.ErrNotAFile)
	}

	if err := v.lock(); err != nil {
		return err
	}
	defer v.gate.Unlock()

	if err := v.dev.Copy(src, dst); err != nil {
		return err
	}
	v.cache.Invalidate(dst)
	return nil
}

// Run triggers execution of the app at p on the badge. No caching is
// involved; the path is rooted at /flash without the prefix.
func (v *VFS) Run(p string) error {
	if err := v.lock(); err != nil {
		return err
	}
	defer v.gate.Unlock()
	return v.dev.Run(clean(p))
}

// lock takes the gate, refusing once teardown began. Every exit path of
// a caller must release it, including error paths.
func (v *VFS) lock() error {
	if v.closed.Load() {
		return badgefs.ErrUnmounted
	}
	v.gate.Lock()
	if v.closed.Load() {
		v.gate.Unlock()
		return badgefs.ErrUnmounted
	}
	return nil
}

// kindOf resolves whether p names a file or directory from its parent's
// listing (cache-first). The two device roots are directories by fiat.
func (v *VFS) kindOf(p string) (badgefs.EntryKind, error) {
	if isSyntheticDir(p) {
		return badgefs.KindDirectory, nil
	}

	parent := parentOf(p)
	entries, err := v.List(parent)
	if err != nil {
		return 0, err
	}
	name := path.Base(p)
	for _, e := range entries {
		if e.Name == name {
			return e.Kind, nil
		}
	}
	return 0, fmt.Errorf("%s: %w", p, badgefs.ErrNotFound)
}

// fileContent returns the full contents of a file, from cache when
// resolved, fetching and caching otherwise. Directories fail NotAFile.
func (v *VFS) fileContent(p string) ([]byte, error) {
	kind, err := v.kindOf(p)
	if err != nil {
		return nil, err
	}
	if kind == badgefs.KindDirectory {
		return nil, fmt.Errorf("read %s: %w", p, badgefs.ErrNotAFile)
	}

	if content, ok := v.cache.Content(p); ok {
		return content, nil
	}

	if err := v.lock(); err != nil {
		return nil, err
	}
	defer v.gate.Unlock()

	// Re-check under the gate: a caller ahead of us may have resolved it.
	if content, ok := v.cache.Content(p); ok {
		return content, nil
	}
	content, err := v.dev.Fetch(p)
	if err != nil {
		return nil, err
	}
	v.cache.PutContent(p, content)
	return content, nil
}

func patch(current []byte, offset int64, data []byte) []byte {
	end := offset + int64(len(data))
	size := int64(len(current))
	if end < size {
		end = size
	}
	image := make([]byte, end)
	copy(image, current)
	copy(image[offset:], data)
	return image
}

func clean(p string) string {
	return path.Clean("/" + p)
}

func parentOf(p string) string {
	return path.Dir(p)
}

func isSyntheticDir(p string) bool {
	return p == "/" || p == "/flash" || p == "/sdcard"
}
