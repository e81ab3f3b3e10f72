package imagesource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/dvloznov/receipt-ledger/internal/domain"
)

// DirSource reads buckets from <root>/<week_id>/ on the local filesystem.
type DirSource struct {
	root   string
	filter Filter
}

// NewDirSource creates a DirSource rooted at root.
func NewDirSource(root string, filter Filter) *DirSource {
	return &DirSource{root: root, filter: filter}
}

// Root returns the photos directory.
func (d *DirSource) Root() string {
	return d.root
}

// Buckets lists the sub-directories of the root. A missing root has no buckets.
func (d *DirSource) Buckets(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("Buckets: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// List returns the regular files with an allowed extension, sorted by name so that
// the processing order does not depend on the filesystem.
func (d *DirSource) List(ctx context.Context, week domain.WeekID) ([]Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := filepath.Join(d.root, string(week))
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("List: %s: %w", week, domain.ErrBucketNotFound)
		}
		return nil, fmt.Errorf("List: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("List: %s is not a directory: %w", week, domain.ErrBucketNotFound)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}

	var images []Image
	for _, e := range entries {
		if !d.filter.Eligible(e.Name()) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		// Stat follows symlinks.
		fi, err := os.Stat(p)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		images = append(images, Image{Name: e.Name(), Location: p, Size: fi.Size()})
	}

	sort.Slice(images, func(i, j int) bool { return images[i].Name < images[j].Name })
	return images, nil
}

// Read loads the image from disk.
func (d *DirSource) Read(ctx context.Context, img Image) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.filter.MaxSize > 0 && img.Size > d.filter.MaxSize {
		return nil, fmt.Errorf("Read: %s is %d bytes, limit is %d", img.Name, img.Size, d.filter.MaxSize)
	}
	data, err := os.ReadFile(img.Location)
	if err != nil {
		return nil, fmt.Errorf("Read: %w", err)
	}
	if d.filter.MaxSize > 0 && int64(len(data)) > d.filter.MaxSize {
		return nil, fmt.Errorf("Read: %s is %d bytes, limit is %d", img.Name, len(data), d.filter.MaxSize)
	}
	return data, nil
}

var _ Source = (*DirSource)(nil)
