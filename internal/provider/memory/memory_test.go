package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgconvert/internal/provider"
	"imgconvert/pkg/platform/sentinel"
)

func TestUpload(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p := New("love-u-convert", WithClock(func() time.Time { return now }), WithMaxFileBytes(8))
	ctx := context.Background()

	img, err := p.Upload(ctx, provider.UploadInput{Filename: "cat.PNG", Data: []byte("1234"), TargetFormat: "webp"})
	require.NoError(t, err)
	assert.Regexp(t, `^love-u-convert/cat_[0-9a-f]{6}$`, img.PublicID)
	assert.Equal(t, "webp", img.Format)
	assert.Equal(t, provider.ResourceImage, img.ResourceType)
	assert.Equal(t, int64(4), img.Bytes)
	assert.Equal(t, now, img.CreatedAt)

	doc, err := p.Upload(ctx, provider.UploadInput{Filename: "notes.txt", Data: []byte("hi"), TargetFormat: "webp"})
	require.NoError(t, err)
	assert.Equal(t, "txt", doc.Format, "non-images are stored unconverted")
	assert.Equal(t, provider.ResourceRaw, doc.ResourceType)

	_, err = p.Upload(ctx, provider.UploadInput{Filename: "big.png", Data: []byte("123456789")})
	assert.ErrorIs(t, err, sentinel.ErrTooLarge)
	assert.Equal(t, 2, p.Len())
}

func TestListPagination(t *testing.T) {
	p := New("love-u-convert")
	for i := range 5 {
		p.Put(provider.Asset{PublicID: fmt.Sprintf("love-u-convert/%d", i), ResourceType: provider.ResourceImage})
	}
	p.Put(provider.Asset{PublicID: "other/x", ResourceType: provider.ResourceImage})
	p.Put(provider.Asset{PublicID: "love-u-convert/raw", ResourceType: provider.ResourceRaw})

	var ids []string
	in := provider.ListInput{ResourceType: provider.ResourceImage, Prefix: "love-u-convert", MaxResults: 2}
	for pages := 0; ; pages++ {
		require.Less(t, pages, 5)
		page, err := p.List(context.Background(), in)
		require.NoError(t, err)
		for _, a := range page.Resources {
			ids = append(ids, a.PublicID)
		}
		if page.NextCursor == "" {
			break
		}
		in.Cursor = page.NextCursor
	}
	assert.Equal(t, []string{"love-u-convert/0", "love-u-convert/1", "love-u-convert/2", "love-u-convert/3", "love-u-convert/4"}, ids)
}

func TestDelete(t *testing.T) {
	p := New("f")
	p.Put(provider.Asset{PublicID: "f/a", ResourceType: provider.ResourceImage})
	p.Put(provider.Asset{PublicID: "f/b", ResourceType: provider.ResourceRaw})

	res, err := p.Delete(context.Background(), provider.ResourceImage, []string{"f/a", "f/b", "f/c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"f/a"}, res.Deleted)
	assert.Equal(t, []string{"f/b", "f/c"}, res.NotFound)
	assert.Equal(t, 1, p.Len())
}

func TestArchiveURL(t *testing.T) {
	p := New("f")
	u, err := p.ArchiveURL(context.Background(), []string{"f/a", "f/b"})
	require.NoError(t, err)
	assert.Contains(t, u, "public_ids%5B%5D=f%2Fa&public_ids%5B%5D=f%2Fb")

	_, err = p.ArchiveURL(context.Background(), nil)
	assert.Error(t, err)
}
