// Package imagesource enumerates and reads receipt photos for one calendar week.
package imagesource

import (
	"context"
	"mime"
	"path"
	"strings"

	"github.com/dvloznov/receipt-ledger/internal/domain"
)

// DefaultExtensions are the receipt photo formats accepted when none are configured.
var DefaultExtensions = []string{".jpg", ".jpeg"}

// DefaultMaxFileSize is 16 MB.
const DefaultMaxFileSize int64 = 16 << 20

// Image is one eligible receipt photo inside a week bucket.
type Image struct {
	// Name is the base file name, written to the ledger as Foto_Datei.
	Name string
	// Location is a filesystem path or a gs:// URI.
	Location string
	Size     int64
}

// Source provides week buckets of receipt photos.
type Source interface {
	// Buckets returns the raw names of all buckets under the source root, unfiltered and unsorted.
	Buckets(ctx context.Context) ([]string, error)

	// List returns the eligible images of a week, sorted by name.
	// A missing bucket is reported as domain.ErrBucketNotFound.
	List(ctx context.Context, week domain.WeekID) ([]Image, error)

	// Read returns the bytes of img.
	Read(ctx context.Context, img Image) ([]byte, error)
}

// Filter decides which files in a bucket count as receipt photos.
type Filter struct {
	// Extensions are matched case-insensitively and include the dot.
	Extensions []string
	// MaxSize rejects larger images at read time. Zero disables the check.
	MaxSize int64
}

// DefaultFilter accepts .jpg and .jpeg up to 16 MB.
func DefaultFilter() Filter {
	return Filter{Extensions: DefaultExtensions, MaxSize: DefaultMaxFileSize}
}

// Eligible reports whether name has an allowed extension.
func (f Filter) Eligible(name string) bool {
	exts := f.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	ext := strings.ToLower(path.Ext(name))
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

// MIMEType guesses the content type sent along with the image bytes.
func MIMEType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	}
	if t := mime.TypeByExtension(strings.ToLower(path.Ext(name))); t != "" {
		return t
	}
	return "application/octet-stream"
}
