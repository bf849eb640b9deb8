// Package zip packs tile images into a single archive.
package zip

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// Entry is one file in an archive.
type Entry struct {
	Filename string
	Modified time.Time
	Data     []byte
}

// Write streams entries to w. Already-compressed images are stored as is;
// everything else is deflated. Duplicate or unsafe names are rejected.
func Write(w io.Writer, entries []Entry) error {
	zw := zip.NewWriter(w)
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		name := path.Clean(strings.ReplaceAll(entry.Filename, "\\", "/"))
		if name == "." || name == ".." || strings.HasPrefix(name, "../") || strings.HasPrefix(name, "/") {
			return fmt.Errorf("zip: unsafe filename %q", entry.Filename)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("zip: duplicate filename %q", name)
		}
		seen[name] = struct{}{}

		hdr := &zip.FileHeader{Name: name, Method: zip.Deflate, Modified: entry.Modified}
		if precompressed(name) {
			hdr.Method = zip.Store
		}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("zip: create %s: %w", name, err)
		}
		if _, err := fw.Write(entry.Data); err != nil {
			return fmt.Errorf("zip: write %s: %w", name, err)
		}
	}
	return zw.Close()
}

// ArchiveAssets returns the archive as a byte slice.
func ArchiveAssets(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, entries); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func precompressed(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return true
	}
	return false
}
