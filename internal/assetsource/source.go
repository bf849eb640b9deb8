// Package assetsource turns uploads, stored files and asset rows into
// measured AssetDescriptors.
package assetsource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"net/http"
	"path"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"assetslicer/internal/domain"
)

// ErrUnsupported is returned when bytes are not a decodable raster.
var ErrUnsupported = errors.New("assetsource: unsupported image")

// Reader loads stored bytes by key. storage.FileStore satisfies it.
type Reader interface {
	Read(ctx context.Context, key string) ([]byte, error)
}

// Measure builds a descriptor from raw bytes, reading only the image header.
// An empty mimeType is sniffed; an empty name falls back to "Image".
func Measure(data []byte, name, mimeType string) (domain.AssetDescriptor, error) {
	if len(data) == 0 {
		return domain.AssetDescriptor{}, fmt.Errorf("%w: empty payload", ErrUnsupported)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return domain.AssetDescriptor{}, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mimeForFormat(format, data)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Image"
	}
	return domain.AssetDescriptor{
		Bytes:    data,
		Width:    cfg.Width,
		Height:   cfg.Height,
		Name:     name,
		MIMEType: mimeType,
	}, nil
}

// NameFromFilename strips the directory and extension from an upload name.
func NameFromFilename(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

func mimeForFormat(format string, data []byte) string {
	switch format {
	case "png", "jpeg", "gif", "webp", "bmp", "tiff":
		return "image/" + format
	}
	return http.DetectContentType(data)
}

// FileSource loads assets by storage key.
type FileSource struct {
	files Reader
}

// NewFileSource returns a FileSource over files.
func NewFileSource(files Reader) *FileSource {
	return &FileSource{files: files}
}

// Load reads and measures the asset stored at key.
func (s *FileSource) Load(ctx context.Context, key string) (domain.AssetDescriptor, error) {
	data, err := s.files.Read(ctx, key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.AssetDescriptor{}, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
		}
		return domain.AssetDescriptor{}, err
	}
	return Measure(data, NameFromFilename(key), "")
}
