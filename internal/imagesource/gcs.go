package imagesource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/receipt-ledger/internal/domain"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSSource reads buckets from gs://<bucket>/<prefix>/<week_id>/.
// It assumes Application Default Credentials unless client options say otherwise.
type GCSSource struct {
	client *storage.Client
	bucket string
	prefix string
	filter Filter
}

// NewGCSSource opens a storage client. prefix may be empty to use the bucket root.
func NewGCSSource(ctx context.Context, bucket, prefix string, filter Filter, opts ...option.ClientOption) (*GCSSource, error) {
	if bucket == "" {
		return nil, fmt.Errorf("NewGCSSource: bucket name is required")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewGCSSource: create storage client: %w", err)
	}
	return &GCSSource{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		filter: filter,
	}, nil
}

// Close releases the storage client.
func (g *GCSSource) Close() error {
	return g.client.Close()
}

// Buckets lists the week "directories" directly below the prefix.
func (g *GCSSource) Buckets(ctx context.Context) ([]string, error) {
	root := rootPrefix(g.prefix)
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: root, Delimiter: "/"})

	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("Buckets: listing gs://%s/%s: %w", g.bucket, root, err)
		}
		if attrs.Prefix == "" {
			continue
		}
		names = append(names, strings.TrimSuffix(strings.TrimPrefix(attrs.Prefix, root), "/"))
	}
	return names, nil
}

// List returns eligible objects of a week. A week without any object at all is
// reported as domain.ErrBucketNotFound, since object stores have no empty directories.
func (g *GCSSource) List(ctx context.Context, week domain.WeekID) ([]Image, error) {
	weekPrefix := WeekPrefix(g.prefix, week)
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: weekPrefix, Delimiter: "/"})

	var images []Image
	seen := 0
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("List: listing gs://%s/%s: %w", g.bucket, weekPrefix, err)
		}
		seen++
		if attrs.Name == "" || strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		name := path.Base(attrs.Name)
		if !g.filter.Eligible(name) {
			continue
		}
		images = append(images, Image{
			Name:     name,
			Location: fmt.Sprintf("gs://%s/%s", g.bucket, attrs.Name),
			Size:     attrs.Size,
		})
	}

	if seen == 0 {
		return nil, fmt.Errorf("List: %s: %w", week, domain.ErrBucketNotFound)
	}

	sort.Slice(images, func(i, j int) bool { return images[i].Name < images[j].Name })
	return images, nil
}

// Read downloads the object behind img.Location.
func (g *GCSSource) Read(ctx context.Context, img Image) ([]byte, error) {
	bucket, object, err := ParseGCSURI(img.Location)
	if err != nil {
		return nil, fmt.Errorf("Read: %w", err)
	}
	if g.filter.MaxSize > 0 && img.Size > g.filter.MaxSize {
		return nil, fmt.Errorf("Read: %s is %d bytes, limit is %d", img.Name, img.Size, g.filter.MaxSize)
	}

	rc, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("Read: reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if g.filter.MaxSize > 0 {
		r = io.LimitReader(rc, g.filter.MaxSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("Read: reading bytes: %w", err)
	}
	if g.filter.MaxSize > 0 && int64(len(data)) > g.filter.MaxSize {
		return nil, fmt.Errorf("Read: %s exceeds %d bytes", img.Name, g.filter.MaxSize)
	}
	return data, nil
}

// Upload copies a local photo into the week's bucket and returns its gs:// URI.
func (g *GCSSource) Upload(ctx context.Context, week domain.WeekID, filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("Upload: open file %q: %w", filePath, err)
	}
	defer f.Close()

	objectName := WeekPrefix(g.prefix, week) + filepath.Base(filePath)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := g.client.Bucket(g.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = MIMEType(filePath)

	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("Upload: copy file to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("Upload: finalize upload: %w", err)
	}

	return fmt.Sprintf("gs://%s/%s", g.bucket, objectName), nil
}

// WeekPrefix is the object name prefix of a week bucket, always ending in "/".
func WeekPrefix(prefix string, week domain.WeekID) string {
	return rootPrefix(prefix) + string(week) + "/"
}

func rootPrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

// ParseGCSURI splits gs://bucket/path/to/object into bucket and object name.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

var _ Source = (*GCSSource)(nil)
