package services

import (
	"bytes"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/Lllllllleong/documentcapture/internal/models"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// AcceptedExtensions is the file picker filter offered to users.
const AcceptedExtensions = ".pdf,.png,.jpg,.jpeg,.webp"

var extensionTypes = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".heic": "image/heic",
	".gif":  "image/gif",
}

// NewUploadFile normalizes a user-provided payload. It never fails: a type
// that cannot be resolved is sniffed from the bytes.
func NewUploadFile(name, declaredMIME string, data []byte) models.UploadFile {
	file := models.UploadFile{
		Name:     name,
		MIMEType: resolveMIMEType(name, declaredMIME, data),
		Size:     int64(len(data)),
		Data:     data,
	}
	if file.MIMEType == "application/pdf" {
		file.PageCount = pdfPageCount(name, data)
	}
	return file
}

// CaptureFilename names a camera capture that arrived without a filename.
func CaptureFilename(mimeType string, now time.Time) string {
	ext := "jpg"
	if _, subtype, ok := strings.Cut(baseMIMEType(mimeType), "/"); ok && subtype != "" {
		ext = subtype
	}
	return fmt.Sprintf("capture-%d.%s", now.UnixMilli(), ext)
}

func resolveMIMEType(name, declared string, data []byte) string {
	if t := baseMIMEType(declared); t != "" && t != "application/octet-stream" {
		return t
	}
	if t, ok := extensionTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return t
	}
	return baseMIMEType(http.DetectContentType(data))
}

// baseMIMEType drops parameters such as charset.
func baseMIMEType(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if t, _, err := mime.ParseMediaType(value); err == nil {
		return t
	}
	return strings.ToLower(value)
}

func pdfPageCount(name string, data []byte) (count int) {
	// pdfcpu can panic on badly broken files.
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("Could not read PDF page count.", "filename", name, "panic", r)
			count = 0
		}
	}()

	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(bytes.NewReader(data), cfg)
	if err != nil {
		slog.Warn("Could not read PDF page count.", "filename", name, "error", err)
		return 0
	}
	return n
}
