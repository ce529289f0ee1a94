// Package filestore is the blob storage layer: a swappable Adapter interface
// behind a Proxy, with a database-backed default. Plugins provide alternate
// backends (S3, local disk) that take over when their plugin activates.
package filestore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/strata-cms/strata/state"
	"github.com/strata-cms/strata/structs"
)

// Adapter is a blob storage backend.
type Adapter interface {
	// CreateFile stores data under path and returns its public location.
	CreateFile(ctx context.Context, path string, data []byte) (string, error)

	// DeleteFile removes the stored file. Deleting an absent file is an
	// error.
	DeleteFile(ctx context.Context, path string) error

	// GetFileData returns the stored bytes.
	GetFileData(ctx context.Context, path string) ([]byte, error)

	// GetFileLocation returns the public location without touching the data.
	GetFileLocation(ctx context.Context, path string) (string, error)

	// ValidateFilename reports whether name is storable.
	ValidateFilename(name string) bool

	// HandleFileStream writes the stored bytes to w.
	HandleFileStream(ctx context.Context, path string, w io.Writer) error
}

// DefaultAdapterID identifies the database-blob adapter.
const DefaultAdapterID = "database"

// BlobAdapter stores files as rows in the state store's blobs table. It is
// the boot-time default.
type BlobAdapter struct {
	logger  hclog.Logger
	store   *state.Store
	baseURL string
}

// NewBlobAdapter returns the database-backed adapter. baseURL prefixes the
// locations it reports, e.g. "https://cms.example.com".
func NewBlobAdapter(logger hclog.Logger, store *state.Store, baseURL string) *BlobAdapter {
	return &BlobAdapter{
		logger:  logger.Named("filestore"),
		store:   store,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

func (b *BlobAdapter) CreateFile(_ context.Context, p string, data []byte) (string, error) {
	if !b.ValidateFilename(path.Base(p)) {
		return "", fmt.Errorf("invalid filename %q", p)
	}
	blob := &structs.Blob{
		Path:        normalizePath(p),
		ContentType: http.DetectContentType(data),
		Data:        data,
		ModTime:     time.Now().UTC(),
	}
	if err := b.store.UpsertBlob(blob); err != nil {
		return "", err
	}
	return b.location(blob.Path), nil
}

func (b *BlobAdapter) DeleteFile(_ context.Context, p string) error {
	p = normalizePath(p)
	blob, err := b.store.BlobByPath(p)
	if err != nil {
		return err
	}
	if blob == nil {
		return fmt.Errorf("file %q does not exist", p)
	}
	return b.store.DeleteBlob(p)
}

func (b *BlobAdapter) GetFileData(_ context.Context, p string) ([]byte, error) {
	blob, err := b.store.BlobByPath(normalizePath(p))
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, fmt.Errorf("file %q does not exist", p)
	}
	return blob.Data, nil
}

func (b *BlobAdapter) GetFileLocation(_ context.Context, p string) (string, error) {
	return b.location(normalizePath(p)), nil
}

// ValidateFilename rejects empty names, path traversal, and separator
// characters.
func (b *BlobAdapter) ValidateFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00")
}

func (b *BlobAdapter) HandleFileStream(ctx context.Context, p string, w io.Writer) error {
	data, err := b.GetFileData(ctx, p)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func (b *BlobAdapter) location(p string) string {
	return b.baseURL + "/media/" + p
}

func normalizePath(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}
