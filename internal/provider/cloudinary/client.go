// Package cloudinary implements provider.Provider on the Cloudinary REST API.
package cloudinary

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"imgconvert/internal/provider"
	"imgconvert/pkg/platform/circuit"
	"imgconvert/pkg/platform/sentinel"
)

const (
	DefaultBaseURL = "https://api.cloudinary.com/v1_1"
	// provider hard cap on ids per delete call
	MaxDeleteBatch = 100
	MaxListResults = 500

	maxResponseBytes = 4 << 20
)

type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
	BaseURL   string
	Timeout   time.Duration
}

type Client struct {
	cfg     Config
	http    *http.Client
	breaker *circuit.Breaker
	metrics *provider.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.http = client
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) {
		c.breaker = b
	}
}

func WithMetrics(m *provider.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) {
		c.tracer = tracer
	}
}

func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("cloudinary: cloud name, api key and api secret are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	c := &Client{
		cfg:    cfg,
		tracer: otel.Tracer("imgconvert/provider"),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.Timeout}
	}
	if c.breaker == nil {
		c.breaker = circuit.New("cloudinary",
			circuit.WithFailureThreshold(5),
			circuit.WithSuccessThreshold(1),
			circuit.WithCooldown(30*time.Second),
		)
	}
	return c, nil
}

// Upload sends one file (or a remote URL) for storage, converting images to
// the target format.
func (c *Client) Upload(ctx context.Context, in provider.UploadInput) (*provider.Asset, error) {
	filename := in.Filename
	if filename == "" && in.RemoteURL != "" {
		if u, err := url.Parse(in.RemoteURL); err == nil {
			filename = path.Base(u.Path)
		}
	}
	resourceType := provider.ResourceTypeFor(filename)
	isImage := resourceType == provider.ResourceImage

	params := url.Values{}
	params.Set("timestamp", strconv.FormatInt(c.now().Unix(), 10))
	params.Set("folder", c.cfg.Folder)
	params.Set("use_filename", "true")
	params.Set("unique_filename", "true")
	if isImage && in.TargetFormat != "" {
		params.Set("format", in.TargetFormat)
		params.Set("transformation", "f_"+in.TargetFormat)
	}
	params.Set("signature", sign(params, c.cfg.APISecret))
	params.Set("api_key", c.cfg.APIKey)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, vs := range params {
		for _, v := range vs {
			if err := mw.WriteField(k, v); err != nil {
				return nil, fmt.Errorf("build upload form: %w", err)
			}
		}
	}
	if in.RemoteURL != "" {
		if err := mw.WriteField("file", in.RemoteURL); err != nil {
			return nil, fmt.Errorf("build upload form: %w", err)
		}
	} else {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			return nil, fmt.Errorf("build upload form: %w", err)
		}
		if _, err := fw.Write(in.Data); err != nil {
			return nil, fmt.Errorf("build upload form: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build upload form: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/%s/upload", c.cfg.BaseURL, c.cfg.CloudName, resourceType)
	var res resource
	err := c.call(ctx, "upload", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body.Bytes()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return c.doJSON(req, &res)
	}, attribute.String("provider.resource_type", string(resourceType)), attribute.Int("provider.bytes", len(in.Data)))
	if err != nil {
		return nil, err
	}

	asset := res.asset(resourceType)
	if asset.Format == "" {
		asset.Format = in.TargetFormat
	}
	if asset.Format == "" {
		asset.Format = provider.Extension(filename)
	}
	return &asset, nil
}

// ArchiveURL builds a signed download URL that makes the provider zip the
// given resources on demand. No request is sent.
func (c *Client) ArchiveURL(ctx context.Context, publicIDs []string) (string, error) {
	if len(publicIDs) == 0 {
		return "", errors.New("archive requires at least one resource")
	}
	_, span := c.tracer.Start(ctx, "provider.archive_url", trace.WithAttributes(attribute.Int("provider.resources", len(publicIDs))))
	defer span.End()

	now := c.now()
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]

	params := url.Values{}
	params.Set("mode", "download")
	params.Set("type", "upload")
	params.Set("flatten_folders", "true")
	params.Set("target_public_id", fmt.Sprintf("%s/zips/file_%d_%s", c.cfg.Folder, now.UnixMilli(), suffix))
	params.Set("zip_file_name", fmt.Sprintf("%s_%d.zip", c.cfg.Folder, now.UnixMilli()))
	params.Set("timestamp", strconv.FormatInt(now.Unix(), 10))
	params["public_ids"] = publicIDs
	signature := sign(params, c.cfg.APISecret)

	query := url.Values{}
	for k, v := range params {
		if k == "public_ids" {
			query["public_ids[]"] = v
			continue
		}
		query[k] = v
	}
	query.Set("signature", signature)
	query.Set("api_key", c.cfg.APIKey)

	return fmt.Sprintf("%s/%s/%s/generate_archive?%s", c.cfg.BaseURL, c.cfg.CloudName, provider.ResourceImage, query.Encode()), nil
}

// List returns one page of uploaded resources under a prefix.
func (c *Client) List(ctx context.Context, in provider.ListInput) (*provider.ListPage, error) {
	maxResults := in.MaxResults
	if maxResults <= 0 || maxResults > MaxListResults {
		maxResults = MaxListResults
	}
	query := url.Values{}
	query.Set("prefix", in.Prefix)
	query.Set("max_results", strconv.Itoa(maxResults))
	if in.Cursor != "" {
		query.Set("next_cursor", in.Cursor)
	}
	endpoint := fmt.Sprintf("%s/%s/resources/%s/upload?%s", c.cfg.BaseURL, c.cfg.CloudName, in.ResourceType, query.Encode())

	var res listResponse
	err := c.call(ctx, "list", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.SetBasicAuth(c.cfg.APIKey, c.cfg.APISecret)
		return c.doJSON(req, &res)
	}, attribute.String("provider.resource_type", string(in.ResourceType)))
	if err != nil {
		return nil, err
	}

	page := &provider.ListPage{NextCursor: res.NextCursor}
	for _, r := range res.Resources {
		page.Resources = append(page.Resources, r.asset(in.ResourceType))
	}
	return page, nil
}

// Delete removes up to MaxDeleteBatch resources in one call.
func (c *Client) Delete(ctx context.Context, resourceType provider.ResourceType, publicIDs []string) (*provider.DeleteResult, error) {
	if len(publicIDs) > MaxDeleteBatch {
		return nil, fmt.Errorf("delete accepts at most %d ids, got %d", MaxDeleteBatch, len(publicIDs))
	}
	query := url.Values{"public_ids[]": publicIDs}
	endpoint := fmt.Sprintf("%s/%s/resources/%s/upload?%s", c.cfg.BaseURL, c.cfg.CloudName, resourceType, query.Encode())

	var res deleteResponse
	err := c.call(ctx, "delete", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
		if err != nil {
			return err
		}
		req.SetBasicAuth(c.cfg.APIKey, c.cfg.APISecret)
		return c.doJSON(req, &res)
	}, attribute.Int("provider.resources", len(publicIDs)))
	if err != nil {
		return nil, err
	}

	out := &provider.DeleteResult{}
	// keep input order
	for _, id := range publicIDs {
		switch res.Deleted[id] {
		case "deleted":
			out.Deleted = append(out.Deleted, id)
		case "":
		default:
			out.NotFound = append(out.NotFound, id)
		}
	}
	return out, nil
}

// call wraps one provider round trip with the circuit breaker, a span and a
// latency observation. Only unavailability counts against the breaker.
func (c *Client) call(ctx context.Context, op string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	if !c.breaker.Allow() {
		return fmt.Errorf("cloudinary %s: circuit open: %w", op, sentinel.ErrUnavailable)
	}

	ctx, span := c.tracer.Start(ctx, "provider."+op, trace.WithAttributes(attrs...))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	c.metrics.ObserveCall(op, start, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	if err != nil && errors.Is(err, sentinel.ErrUnavailable) {
		if _, change := c.breaker.RecordFailure(); change.Opened {
			c.metrics.SetBreakerOpen(true)
			c.logger.WarnContext(ctx, "provider circuit opened", "operation", op, "error", err)
		}
	} else if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.metrics.SetBreakerOpen(false)
		c.logger.InfoContext(ctx, "provider circuit closed", "operation", op)
	}

	if err != nil {
		return fmt.Errorf("cloudinary %s: %w", op, err)
	}
	return nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Join(sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return errors.Join(sentinel.ErrUnavailable, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w: %w", sentinel.ErrProtocol, err)
		}
		return nil
	}
	return statusError(resp.StatusCode, body)
}

func statusError(status int, body []byte) error {
	var e errorResponse
	msg := http.StatusText(status)
	if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
		msg = e.Error.Message
	}

	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("status %d: %s: %w", status, msg, sentinel.ErrUnavailable)
	case status == http.StatusNotFound:
		return fmt.Errorf("status %d: %s: %w", status, msg, sentinel.ErrNotFound)
	case isSizeLimit(msg):
		return fmt.Errorf("status %d: %s: %w", status, msg, sentinel.ErrTooLarge)
	default:
		return fmt.Errorf("status %d: %s: %w", status, msg, provider.ErrRejected)
	}
}

func isSizeLimit(msg string) bool {
	return strings.Contains(msg, "File size too large") || strings.Contains(msg, "Maximum is")
}

var _ provider.Provider = (*Client)(nil)
