// Package badgefs holds the shared types for talking to the badge's
// flash-resident file store: directory entries, file metadata, and the
// error taxonomy surfaced by the transport and protocol layers.
package badgefs

// EntryKind discriminates files from directories in a remote listing.
type EntryKind int

const (
	KindFile EntryKind = iota
	KindDirectory
)

func (k EntryKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// DirEntry is a single entry from a remote directory listing. The device
// guarantees no ordering; callers that want stable output must sort.
type DirEntry struct {
	Name string
	Kind EntryKind
}

// FileMetadata describes a remote path. The device protocol has no
// stat-for-size primitive, so Size is only meaningful once SizeKnown is
// set, which requires a full content fetch.
type FileMetadata struct {
	Kind      EntryKind
	Size      uint64
	SizeKnown bool
}
