package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"assetslicer/internal/assetsource"
	"assetslicer/internal/domain"
)

const multipartMemory = 8 << 20

var errNoFile = errors.New("file is required")

// parseForm bounds the body and parses a multipart (or urlencoded) form.
func (a *App) parseForm(w http.ResponseWriter, r *http.Request) error {
	limit := int64(64 << 20)
	if a.Config != nil && a.Config.MaxUploadBytes > 0 {
		limit = a.Config.MaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		return r.ParseMultipartForm(multipartMemory)
	}
	return r.ParseForm()
}

// readUpload measures the multipart "file" field. The optional "name" field
// overrides the filename-derived asset name.
func readUpload(r *http.Request) (domain.AssetDescriptor, error) {
	if r.MultipartForm == nil {
		return domain.AssetDescriptor{}, errNoFile
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return domain.AssetDescriptor{}, errNoFile
		}
		return domain.AssetDescriptor{}, err
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return domain.AssetDescriptor{}, fmt.Errorf("read upload: %w", err)
	}
	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		name = assetsource.NameFromFilename(header.Filename)
	}
	return assetsource.Measure(data, name, header.Header.Get("Content-Type"))
}

// uploadStatus maps an upload failure to an HTTP status and error kind.
func uploadStatus(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "payload_too_large"
	case errors.Is(err, errNoFile):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, assetsource.ErrUnsupported):
		return http.StatusUnprocessableEntity, "unsupported_image"
	default:
		return http.StatusBadRequest, "bad_request"
	}
}
