package ports

import (
	"context"

	"imgconvert/internal/provider"
)

// Provider is the part of the media provider the conversion path needs.
type Provider interface {
	Upload(ctx context.Context, in provider.UploadInput) (*provider.Asset, error)
	ArchiveURL(ctx context.Context, publicIDs []string) (string, error)
}
