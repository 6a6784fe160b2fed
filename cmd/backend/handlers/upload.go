package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/medguard-ai/medguard/analysis"
	"github.com/medguard-ai/medguard/scan"
)

// DefaultMaxPhotoSize is the per-file upload limit.
const DefaultMaxPhotoSize = 5 * 1024 * 1024

// multipartOverhead leaves room for form fields and part headers on top of
// the file payloads.
const multipartOverhead = 1 << 20

var (
	errFileTooLarge    = errors.New("file exceeds the upload limit")
	errInvalidFileType = errors.New("invalid file type, must be JPEG, PNG or WebP")
)

// allowedImageTypes maps sniffed content types to the stored file extension.
var allowedImageTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

// readPhoto loads an uploaded image, enforcing the size limit and checking
// its content by magic bytes rather than the client-supplied type.
func readPhoto(fh *multipart.FileHeader, role scan.Role, maxSize int64) (analysis.Photo, error) {
	if fh.Size > maxSize {
		return analysis.Photo{}, fmt.Errorf("%w: %s is %d bytes", errFileTooLarge, fh.Filename, fh.Size)
	}

	f, err := fh.Open()
	if err != nil {
		return analysis.Photo{}, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxSize+1))
	if err != nil {
		return analysis.Photo{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > maxSize {
		return analysis.Photo{}, fmt.Errorf("%w: %s", errFileTooLarge, fh.Filename)
	}

	ext, ok := allowedImageTypes[http.DetectContentType(data)]
	if !ok {
		return analysis.Photo{}, fmt.Errorf("%w: %s", errInvalidFileType, fh.Filename)
	}

	return analysis.Photo{Role: role, Ext: ext, Body: bytes.NewReader(data)}, nil
}

// batchFieldRole maps a batch form field ("front" or "front_image") to its role.
func batchFieldRole(field string) (scan.Role, error) {
	return scan.ParseRole(strings.TrimSuffix(field, "_image"))
}

// respondUploadError writes the response for a readPhoto failure.
func respondUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errFileTooLarge):
		respondError(w, http.StatusBadRequest, CodeFileTooLarge, err.Error())
	case errors.Is(err, errInvalidFileType):
		respondError(w, http.StatusBadRequest, CodeInvalidFileType, err.Error())
	default:
		respondError(w, http.StatusBadRequest, CodeMissingFile, err.Error())
	}
}
