package ziparchive

import (
	"archive/zip"
	"context"
	"io"
	"os"

	"github.com/framelift/framelift/internal/domain/entity"
	"github.com/framelift/framelift/internal/domain/port"
)

// Archiver bundles named files into a single zip stream, preserving entry
// order.
type Archiver struct{}

func NewArchiver() *Archiver {
	return &Archiver{}
}

func (a *Archiver) Compress(ctx context.Context, entries []port.ArchiveEntry, w io.Writer) error {
	zw := zip.NewWriter(w)

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			zw.Close()
			return entity.Transient("compress", ctx.Err())
		default:
		}

		if err := addEntry(zw, entry); err != nil {
			zw.Close()
			return entity.Transient("compress", err)
		}
	}

	if err := zw.Close(); err != nil {
		return entity.Transient("compress", err)
	}
	return nil
}

func addEntry(zw *zip.Writer, entry port.ArchiveEntry) error {
	file, err := os.Open(entry.Path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = entry.Name
	header.Method = zip.Deflate

	writer, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}

	_, err = io.Copy(writer, file)
	return err
}
