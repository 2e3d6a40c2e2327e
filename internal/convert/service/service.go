package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"imgconvert/internal/convert/metrics"
	"imgconvert/internal/convert/models"
	"imgconvert/internal/convert/ports"
	"imgconvert/internal/provider"
	dErrors "imgconvert/pkg/domain-errors"
	"imgconvert/pkg/platform/sentinel"
	"imgconvert/pkg/platform/urlguard"
	"imgconvert/pkg/requestcontext"
)

// Provider is an alias for the shared port.
type Provider = ports.Provider

// Service sends admitted files to the provider and aggregates the outcome. It
// never touches admission state.
type Service struct {
	provider     Provider
	maxFileBytes int64
	maxItems     int
	concurrency  int
	urlGuard     func(string) error
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

type Option func(*Service)

// WithMaxFileBytes sets the provider's per-file ceiling. Larger files are
// refused before upload.
func WithMaxFileBytes(n int64) Option {
	return func(s *Service) {
		s.maxFileBytes = n
	}
}

// WithMaxItems caps URLs per request.
func WithMaxItems(n int) Option {
	return func(s *Service) {
		s.maxItems = n
	}
}

func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithURLGuard(guard func(string) error) Option {
	return func(s *Service) {
		s.urlGuard = guard
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(p Provider, opts ...Option) (*Service, error) {
	if p == nil {
		return nil, errors.New("provider is required")
	}
	s := &Service{
		provider:     p,
		maxFileBytes: 10 << 20,
		maxItems:     20,
		concurrency:  4,
		urlGuard: func(raw string) error {
			_, err := urlguard.Check(raw)
			return err
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// item is one unit of work: an uploaded file or a remote URL.
type item struct {
	name   string
	size   int64
	data   []byte
	remote string
}

type outcome struct {
	asset   *provider.Asset
	failure *models.Failure
	err     error
}

// Convert converts uploaded files. One file yields a direct download link;
// several yield an archive link over the files that converted.
func (s *Service) Convert(ctx context.Context, req models.Request) (*models.Result, error) {
	if len(req.Files) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "No files provided")
	}
	format, err := models.NormalizeFormat(req.TargetFormat)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnsupportedFormat, "Unsupported target format: "+req.TargetFormat)
	}

	items := make([]item, len(req.Files))
	for i, f := range req.Files {
		name := f.Filename
		if name == "" {
			name = "unknown"
		}
		items[i] = item{name: name, size: f.Size, data: f.Data}
	}
	return s.run(ctx, items, format)
}

// ConvertURLs converts remote files the provider fetches itself. Every URL
// must pass the SSRF guard before any provider call.
func (s *Service) ConvertURLs(ctx context.Context, req models.URLRequest) (*models.Result, error) {
	if len(req.URLs) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "No URLs provided")
	}
	if len(req.URLs) > s.maxItems {
		return nil, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("At most %d URLs are accepted per request", s.maxItems))
	}
	format, err := models.NormalizeFormat(req.TargetFormat)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnsupportedFormat, "Unsupported target format: "+req.TargetFormat)
	}

	items := make([]item, len(req.URLs))
	for i, raw := range req.URLs {
		if err := s.urlGuard(raw); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "URL not allowed: "+raw)
		}
		name := raw
		if u, err := url.Parse(raw); err == nil && path.Base(u.Path) != "/" && path.Base(u.Path) != "." {
			name = path.Base(u.Path)
		}
		items[i] = item{name: name, remote: raw}
	}
	return s.run(ctx, items, format)
}

func (s *Service) run(ctx context.Context, items []item, format string) (*models.Result, error) {
	s.logger.InfoContext(ctx, "converting files",
		"files", len(items),
		"target_format", format,
		"request_id", requestcontext.RequestID(ctx),
	)

	if len(items) == 1 {
		result, err := s.single(ctx, items[0], format)
		s.metrics.ObserveRequest(models.ModeSingle, err)
		return result, err
	}
	result, err := s.multi(ctx, items, format)
	s.metrics.ObserveRequest(models.ModeMulti, err)
	return result, err
}

func (s *Service) single(ctx context.Context, it item, format string) (*models.Result, error) {
	out := s.convertOne(ctx, it, format)
	if out.err != nil {
		return nil, out.err
	}

	outputFormat := out.asset.Format
	if outputFormat == "" {
		outputFormat = format
	}
	return &models.Result{
		Status:      models.StatusSuccess,
		Mode:        models.ModeSingle,
		DownloadURL: out.asset.SecureURL,
		Meta: models.SingleMeta{
			OriginalName:       it.name,
			ConvertedName:      out.asset.PublicID,
			ConvertedSizeBytes: out.asset.Bytes,
			OutputFormat:       outputFormat,
		},
	}, nil
}

// multi converts with bounded parallelism. Per-file failures are collected;
// siblings keep going.
func (s *Service) multi(ctx context.Context, items []item, format string) (*models.Result, error) {
	outcomes := make([]outcome, len(items))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, it := range items {
		g.Go(func() error {
			outcomes[i] = s.convertOne(ctx, it, format)
			return nil
		})
	}
	_ = g.Wait()

	var ids []string
	var failures []models.Failure
	for _, o := range outcomes {
		if o.asset != nil {
			ids = append(ids, o.asset.PublicID)
			continue
		}
		failures = append(failures, *o.failure)
	}

	if len(ids) == 0 {
		return nil, dErrors.New(dErrors.CodeUnavailable, "Failed to convert any files")
	}

	zipURL, err := s.provider.ArchiveURL(ctx, ids)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to build archive url",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, providerError(err)
	}

	return &models.Result{
		Status: models.StatusSuccess,
		Mode:   models.ModeMulti,
		ZipURL: zipURL,
		Meta: models.MultiMeta{
			TotalFiles:  len(ids),
			FailedFiles: len(failures),
		},
		Failures: failures,
	}, nil
}

// convertOne never returns both an asset and a failure. err carries the domain
// error used in single mode; failure carries the same fact for multi mode.
func (s *Service) convertOne(ctx context.Context, it item, format string) outcome {
	if it.remote == "" && s.maxFileBytes > 0 && it.size > s.maxFileBytes {
		msg := fmt.Sprintf("File %q is too large (%s). Maximum is %s per file.",
			it.name, humanize.IBytes(uint64(it.size)), humanize.IBytes(uint64(s.maxFileBytes)))
		s.metrics.ObserveFile("too_large")
		return outcome{
			failure: &models.Failure{Filename: it.name, Code: models.FailureTooLarge, Message: msg},
			err:     dErrors.New(dErrors.CodePayloadTooLarge, msg),
		}
	}

	asset, err := s.provider.Upload(ctx, provider.UploadInput{
		Filename:     it.name,
		Data:         it.data,
		RemoteURL:    it.remote,
		TargetFormat: format,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "file conversion failed",
			"filename", it.name,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		s.metrics.ObserveFile("failed")
		return outcome{failure: failureFor(it.name, err), err: providerError(err)}
	}

	s.metrics.ObserveFile("converted")
	return outcome{asset: asset}
}

func failureFor(name string, err error) *models.Failure {
	f := &models.Failure{Filename: name}
	switch {
	case errors.Is(err, sentinel.ErrTooLarge):
		f.Code, f.Message = models.FailureTooLarge, "File exceeds the provider size limit"
	case errors.Is(err, provider.ErrRejected):
		f.Code, f.Message = models.FailureRejected, "The provider could not process this file"
	case errors.Is(err, sentinel.ErrUnavailable):
		f.Code, f.Message = models.FailureUnavailable, "The conversion provider is unavailable"
	default:
		f.Code, f.Message = models.FailureInternal, "Conversion failed"
	}
	return f
}

func providerError(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrTooLarge):
		return dErrors.Wrap(err, dErrors.CodePayloadTooLarge, "File exceeds the provider size limit")
	case errors.Is(err, provider.ErrRejected):
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "The provider could not process this file")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "The conversion provider is unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "conversion failed")
	}
}
