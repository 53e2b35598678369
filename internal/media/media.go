// Package media classifies and inspects uploaded attachments before they reach storage.
package media

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"path/filepath"
	"strings"

	"github.com/ftu-admissions/admission-api/internal/admission/domain"
	"github.com/ftu-admissions/admission-api/internal/apperror"
	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
)

// MaxFileBytes is the per-file upload ceiling.
const MaxFileBytes int64 = 12 << 20

const (
	TypePDF    = "application/pdf"
	TypeMSWord = "application/msword"
	TypeDOCX   = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

var documentTypes = map[string]struct{}{
	TypePDF:    {},
	TypeMSWord: {},
	TypeDOCX:   {},
}

var extensionTypes = map[string]string{
	".pdf":  TypePDF,
	".doc":  TypeMSWord,
	".docx": TypeDOCX,
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

var oleSignature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// ContentType resolves the media type of a part. A declared type wins unless it is empty or
// the generic octet-stream, in which case the file extension decides.
func ContentType(declared, filename string) string {
	if declared != "" {
		if parsed, _, err := mime.ParseMediaType(declared); err == nil {
			parsed = strings.ToLower(parsed)
			if parsed != "application/octet-stream" {
				return parsed
			}
		}
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if parsed, _, err := mime.ParseMediaType(t); err == nil {
			return parsed
		}
	}
	return "application/octet-stream"
}

// scriptableImages are image/* types a browser would run script from. They are refused
// as photos and as documents.
var scriptableImages = map[string]struct{}{
	"image/svg+xml": {},
	"image/svg":     {},
}

// IsImage reports an image/* media type that carries no script.
func IsImage(contentType string) bool {
	contentType = strings.ToLower(contentType)
	if _, ok := scriptableImages[contentType]; ok {
		return false
	}
	return strings.HasPrefix(contentType, "image/")
}

// IsRaster reports the image types safe to render inline.
func IsRaster(contentType string) bool {
	switch strings.ToLower(contentType) {
	case "image/png", "image/jpeg", "image/gif", "image/webp":
		return true
	}
	return false
}

// Extension picks a file extension for storage keys.
func Extension(contentType, filename string) string {
	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" && len(ext) <= 6 {
		return ext
	}
	for ext, t := range extensionTypes {
		if t == contentType && ext != ".jpeg" {
			return ext
		}
	}
	return ""
}

// CheckSize enforces the size ceiling.
func CheckSize(filename string, size, max int64) error {
	if max <= 0 {
		max = MaxFileBytes
	}
	if size > max {
		return apperror.PayloadTooLarge(fmt.Sprintf("%s exceeds the %d MiB limit", displayName(filename), max>>20))
	}
	return nil
}

// CheckPhoto accepts image types only.
func CheckPhoto(filename, contentType string) (domain.ReferenceKind, error) {
	if !IsImage(contentType) {
		return "", apperror.UnsupportedMediaType(fmt.Sprintf("photo %s must be an image, got %s", displayName(filename), contentType))
	}
	return domain.KindImage, nil
}

// CheckDocument accepts pdf, doc, docx and images.
func CheckDocument(filename, contentType string) (domain.ReferenceKind, error) {
	if IsImage(contentType) {
		return domain.KindImage, nil
	}
	if _, ok := documentTypes[contentType]; ok {
		return domain.KindRaw, nil
	}
	return "", apperror.UnsupportedMediaType(fmt.Sprintf("document %s has unsupported type %s", displayName(filename), contentType))
}

// Inspect opens the payload with a format-specific reader so corrupt or mislabelled files are
// refused before upload. Image subtypes without a registered decoder pass on their media type.
func Inspect(filename, contentType string, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = corrupt(filename, contentType, fmt.Errorf("%v", r))
		}
	}()

	switch {
	case contentType == TypePDF:
		reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return corrupt(filename, contentType, err)
		}
		if reader.NumPage() < 1 {
			return corrupt(filename, contentType, fmt.Errorf("no pages"))
		}
	case contentType == TypeDOCX:
		doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return corrupt(filename, contentType, err)
		}
		_ = doc.Close()
	case contentType == TypeMSWord:
		if !bytes.HasPrefix(data, oleSignature) {
			return corrupt(filename, contentType, fmt.Errorf("missing OLE signature"))
		}
	case contentType == "image/png" || contentType == "image/jpeg" || contentType == "image/gif":
		if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
			return corrupt(filename, contentType, err)
		}
	}
	return nil
}

func corrupt(filename, contentType string, cause error) error {
	e := apperror.UnsupportedMediaType(fmt.Sprintf("%s is not a readable %s file", displayName(filename), contentType))
	e.Err = cause
	return e
}

func displayName(filename string) string {
	if strings.TrimSpace(filename) == "" {
		return "file"
	}
	return filepath.Base(filename)
}
