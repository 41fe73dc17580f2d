package port

import (
	"context"
	"io"
)

// ArchiveEntry names one blob going into the archive. Entries are written in
// the order given.
type ArchiveEntry struct {
	Name string
	Path string
}

// Archiver is the external compression capability: it bundles the ordered
// entries into a single archive stream written to w.
type Archiver interface {
	Compress(ctx context.Context, entries []ArchiveEntry, w io.Writer) error
}
