// Package attach turns a row's file attachments into one staged PDF.
// Downloads and conversions live in a per-row scratch directory; the
// combined document is copied to staging_dir/<row_id>/<name>.pdf.
package attach

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/jorgenin/expense-migration/internal/domain"
	"github.com/jorgenin/expense-migration/internal/errors"
)

// Kind is how a downloaded file is turned into a document.
type Kind string

const (
	KindDocument Kind = "document"
	KindImage    Kind = "image"
	KindOther    Kind = "other"
)

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

// Classify picks the conversion for filename by extension.
func Classify(filename string) Kind {
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case ext == ".pdf":
		return KindDocument
	case imageExts[ext]:
		return KindImage
	default:
		return KindOther
	}
}

// RowDir returns the staging directory for a row's documents.
func RowDir(stagingDir, rowID string) string {
	return filepath.Join(stagingDir, SafeName(rowID))
}

// StagedPath returns where the combined document for a row is staged.
func StagedPath(stagingDir, rowID, baseName string) string {
	return filepath.Join(RowDir(stagingDir, rowID), SafeName(baseName)+".pdf")
}

// CopyFile copies src to dst, creating dst's parent directory.
func CopyFile(src, dst string) (size int64, err error) {
	srcFile, err := os.Open(src)
	if err != nil {
		return 0, errors.Wrap(err, "open source")
	}
	defer srcFile.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, errors.Wrap(err, "create destination directory")
	}
	dstFile, err := os.Create(dst)
	if err != nil {
		return 0, errors.Wrap(err, "create destination")
	}

	size, err = io.Copy(dstFile, srcFile)
	if closeErr := dstFile.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, errors.Wrap(err, "copy file")
	}
	return size, nil
}

// DetectMimeType attempts to detect MIME type from filename extension.
// Falls back to application/octet-stream if unknown.
func DetectMimeType(filename string) string {
	ext := filepath.Ext(filename)
	if ext == "" {
		return "application/octet-stream"
	}

	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		return "application/octet-stream"
	}

	// Strip parameters like charset
	if idx := strings.IndexByte(mimeType, ';'); idx != -1 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}

	return mimeType
}

// ValidateSize checks if file size is within limits.
func ValidateSize(size int64, maxMB int64) error {
	if maxMB <= 0 {
		return nil // No limit
	}

	maxBytes := maxMB * 1024 * 1024
	if size > maxBytes {
		return errors.Newf("attachment size %d bytes exceeds limit of %d MB", size, maxMB)
	}

	return nil
}

// Release removes a staged document and, when it is left empty, the row
// directory holding it. Missing files are not an error.
func Release(f *domain.ProcessedFile) error {
	if f == nil || f.LocalPath == "" {
		return nil
	}
	if err := os.Remove(f.LocalPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "delete staged document")
	}
	// Fails harmlessly while other documents remain.
	_ = os.Remove(filepath.Dir(f.LocalPath))
	return nil
}

// SafeName reduces name to characters safe in a single path element.
func SafeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := strings.Trim(b.String(), ".")
	if s == "" {
		return "file"
	}
	return s
}

// localName is the scratch filename for the index-th attachment. The index
// prefix keeps same-named attachments apart.
func localName(index int, a domain.Attachment) string {
	name := a.Name
	if name == "" {
		name = path.Base(strings.SplitN(a.URL, "?", 2)[0])
	}
	return fmt.Sprintf("%02d-%s", index, SafeName(name))
}
