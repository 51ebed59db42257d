package document

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// systemFolderMarker is the path segment macOS adds for resource forks
const systemFolderMarker = "__MACOSX"

var (
	// maxEntrySize caps how much of a single archive member is read into memory
	maxEntrySize int64 = 64 << 20

	// maxArchiveSize caps the inflated bytes read from all members of one archive
	maxArchiveSize int64 = 256 << 20
)

// Expand opens a zip archive and returns its members as new blobs, in
// directory order. Directories, hidden dot-files and system folders are
// skipped. Members are not expanded further.
func Expand(b Blob) ([]Blob, error) {
	r, err := zip.NewReader(bytes.NewReader(b.Data), int64(len(b.Data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArchiveCorrupt, b.Name, err)
	}

	members := make([]Blob, 0, len(r.File))
	var total int64
	for _, f := range r.File {
		if skipEntry(f) {
			continue
		}
		if f.UncompressedSize64 > uint64(maxEntrySize) {
			return nil, fmt.Errorf("%w: %s: entry %s exceeds %d bytes", ErrArchiveCorrupt, b.Name, f.Name, maxEntrySize)
		}

		remaining := maxArchiveSize - total
		if remaining <= 0 || f.UncompressedSize64 > uint64(remaining) {
			return nil, fmt.Errorf("%w: %s: members exceed %d bytes in total", ErrArchiveCorrupt, b.Name, maxArchiveSize)
		}

		// Declared sizes are untrusted; the read is bounded as well.
		data, err := readEntry(f, min(maxEntrySize, remaining))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: entry %s: %v", ErrArchiveCorrupt, b.Name, f.Name, err)
		}
		total += int64(len(data))
		members = append(members, Blob{Name: f.Name, Data: data})
	}
	return members, nil
}

func readEntry(f *zip.File, limit int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("exceeds %d bytes", limit)
	}
	return data, nil
}

// skipEntry reports whether a zip entry is noise rather than a document
func skipEntry(f *zip.File) bool {
	name := strings.ReplaceAll(f.Name, "\\", "/")
	if f.FileInfo().IsDir() || strings.HasSuffix(name, "/") {
		return true
	}

	segments := strings.Split(name, "/")
	for _, segment := range segments {
		if segment == systemFolderMarker {
			return true
		}
	}
	return strings.HasPrefix(segments[len(segments)-1], ".")
}
