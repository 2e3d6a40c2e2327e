// Package provider describes the hosted media service that performs the actual
// transcoding, storage, archiving and deletion.
package provider

import (
	"context"
	"path"
	"strings"
	"time"
)

// ResourceType is the provider's storage class for an asset.
type ResourceType string

const (
	ResourceImage ResourceType = "image"
	ResourceRaw   ResourceType = "raw"
	ResourceAuto  ResourceType = "auto"
)

// CleanupTypes are the resource types swept by the cleanup job.
var CleanupTypes = []ResourceType{ResourceImage, ResourceRaw}

var imageExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true,
	"webp": true, "svg": true, "bmp": true,
}

// Extension returns the lowercased extension of filename without the dot.
func Extension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
}

// IsImage reports whether filename has an image extension the provider can
// transform.
func IsImage(filename string) bool {
	return imageExtensions[Extension(filename)]
}

// ResourceTypeFor picks image for image files and lets the provider detect
// everything else.
func ResourceTypeFor(filename string) ResourceType {
	if IsImage(filename) {
		return ResourceImage
	}
	return ResourceAuto
}

// UploadInput is one file to upload and convert. Exactly one of Data or
// RemoteURL is set; with RemoteURL the provider fetches the file itself.
type UploadInput struct {
	Filename     string
	Data         []byte
	RemoteURL    string
	TargetFormat string
}

// Asset is a stored resource.
type Asset struct {
	PublicID     string
	SecureURL    string
	Bytes        int64
	Format       string
	ResourceType ResourceType
	CreatedAt    time.Time
}

type ListInput struct {
	ResourceType ResourceType
	Prefix       string
	MaxResults   int
	Cursor       string
}

// ListPage is one page of a listing. An empty NextCursor ends the listing.
type ListPage struct {
	Resources  []Asset
	NextCursor string
}

type DeleteResult struct {
	Deleted  []string
	NotFound []string
}

// Provider is the full surface of the hosted media service.
type Provider interface {
	Upload(ctx context.Context, in UploadInput) (*Asset, error)
	ArchiveURL(ctx context.Context, publicIDs []string) (string, error)
	List(ctx context.Context, in ListInput) (*ListPage, error)
	Delete(ctx context.Context, resourceType ResourceType, publicIDs []string) (*DeleteResult, error)
}
