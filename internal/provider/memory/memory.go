// Package memory is an in-process provider for local runs and tests. It stores
// uploads as-is; no conversion happens.
package memory

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"imgconvert/internal/provider"
	"imgconvert/pkg/platform/sentinel"
)

const baseURL = "https://assets.local"

type Provider struct {
	mu       sync.Mutex
	folder   string
	maxBytes int64
	now      func() time.Time
	assets   map[string]provider.Asset
}

type Option func(*Provider)

func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// WithMaxFileBytes makes uploads above n fail like the hosted service does.
func WithMaxFileBytes(n int64) Option {
	return func(p *Provider) {
		p.maxBytes = n
	}
}

func New(folder string, opts ...Option) *Provider {
	p := &Provider{
		folder: folder,
		now:    time.Now,
		assets: make(map[string]provider.Asset),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Upload(ctx context.Context, in provider.UploadInput) (*provider.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.maxBytes > 0 && int64(len(in.Data)) > p.maxBytes {
		return nil, fmt.Errorf("file size too large: %w", sentinel.ErrTooLarge)
	}

	name := in.Filename
	if name == "" {
		name = in.RemoteURL[strings.LastIndex(in.RemoteURL, "/")+1:]
	}
	resourceType := provider.ResourceTypeFor(name)
	format := provider.Extension(name)
	if resourceType == provider.ResourceImage && in.TargetFormat != "" {
		format = in.TargetFormat
	}
	stem := strings.TrimSuffix(name, path.Ext(name))
	if resourceType == provider.ResourceAuto {
		resourceType = provider.ResourceRaw
	}

	asset := provider.Asset{
		PublicID:     fmt.Sprintf("%s/%s_%s", p.folder, stem, uuid.NewString()[:6]),
		Bytes:        int64(len(in.Data)),
		Format:       format,
		ResourceType: resourceType,
		CreatedAt:    p.now().UTC(),
	}
	asset.SecureURL = fmt.Sprintf("%s/%s/%s.%s", baseURL, resourceType, asset.PublicID, format)

	p.mu.Lock()
	p.assets[asset.PublicID] = asset
	p.mu.Unlock()
	return &asset, nil
}

func (p *Provider) ArchiveURL(_ context.Context, publicIDs []string) (string, error) {
	if len(publicIDs) == 0 {
		return "", fmt.Errorf("archive requires at least one resource")
	}
	q := url.Values{"public_ids[]": publicIDs}
	return fmt.Sprintf("%s/archive/%s/zips/file_%d.zip?%s", baseURL, p.folder, p.now().UnixMilli(), q.Encode()), nil
}

// List pages through assets in public id order. The cursor is the offset of
// the next page.
func (p *Provider) List(ctx context.Context, in provider.ListInput) (*provider.ListPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	var matched []provider.Asset
	for _, a := range p.assets {
		if a.ResourceType == in.ResourceType && strings.HasPrefix(a.PublicID, in.Prefix) {
			matched = append(matched, a)
		}
	}
	p.mu.Unlock()
	sort.Slice(matched, func(i, j int) bool { return matched[i].PublicID < matched[j].PublicID })

	offset := 0
	if in.Cursor != "" {
		n, err := strconv.Atoi(in.Cursor)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid cursor %q", in.Cursor)
		}
		offset = min(n, len(matched))
	}
	limit := in.MaxResults
	if limit <= 0 {
		limit = 500
	}
	end := min(offset+limit, len(matched))

	page := &provider.ListPage{Resources: matched[offset:end]}
	if end < len(matched) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func (p *Provider) Delete(ctx context.Context, resourceType provider.ResourceType, publicIDs []string) (*provider.DeleteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	res := &provider.DeleteResult{}
	for _, id := range publicIDs {
		a, ok := p.assets[id]
		if !ok || a.ResourceType != resourceType {
			res.NotFound = append(res.NotFound, id)
			continue
		}
		delete(p.assets, id)
		res.Deleted = append(res.Deleted, id)
	}
	return res, nil
}

// Put stores an asset directly, for seeding.
func (p *Provider) Put(a provider.Asset) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.assets[a.PublicID] = a
}

// Len reports how many assets are stored.
func (p *Provider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.assets)
}

var _ provider.Provider = (*Provider)(nil)
