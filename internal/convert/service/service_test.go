package service

//go:generate mockgen -destination=mocks/mocks.go -package=mocks imgconvert/internal/convert/ports Provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"imgconvert/internal/convert/metrics"
	"imgconvert/internal/convert/models"
	"imgconvert/internal/convert/service/mocks"
	"imgconvert/internal/provider"
	dErrors "imgconvert/pkg/domain-errors"
	"imgconvert/pkg/platform/sentinel"
)

// =============================================================================
// Conversion Service Test Suite
// =============================================================================
// The provider is mocked so every aggregation path (single, partial, total
// failure, fail-fast) can be forced without a network.

type ConvertServiceSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	provider *mocks.MockProvider
	metrics  *metrics.Metrics
	service  *Service
	ctx      context.Context
}

func TestConvertServiceSuite(t *testing.T) {
	suite.Run(t, new(ConvertServiceSuite))
}

func (s *ConvertServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.provider = mocks.NewMockProvider(s.ctrl)
	s.metrics = metrics.New(prometheus.NewRegistry())

	var err error
	s.service, err = New(s.provider,
		WithMaxFileBytes(100),
		WithMaxItems(3),
		WithConcurrency(2),
		WithMetrics(s.metrics),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithURLGuard(func(raw string) error {
			if raw == "http://127.0.0.1/x.png" {
				return errors.New("blocked")
			}
			return nil
		}),
	)
	s.Require().NoError(err)
	s.ctx = context.Background()
}

func (s *ConvertServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func file(name string, size int64) models.File {
	return models.File{Filename: name, Size: size, Data: make([]byte, size)}
}

func asset(id string) *provider.Asset {
	return &provider.Asset{PublicID: id, SecureURL: "https://cdn.example.com/" + id, Bytes: 42, Format: "webp"}
}

func (s *ConvertServiceSuite) TestNew_RequiresProvider() {
	_, err := New(nil)
	s.ErrorContains(err, "provider is required")
}

func (s *ConvertServiceSuite) TestConvert_NoFiles() {
	_, err := s.service.Convert(s.ctx, models.Request{})
	s.True(dErrors.Is(err, dErrors.CodeBadRequest))
	s.ErrorContains(err, "No files provided")
}

func (s *ConvertServiceSuite) TestConvert_UnsupportedFormatFailsFast() {
	// no provider call expected
	_, err := s.service.Convert(s.ctx, models.Request{
		Files:        []models.File{file("a.png", 10), file("b.png", 10)},
		TargetFormat: "exe",
	})
	s.True(dErrors.Is(err, dErrors.CodeUnsupportedFormat))
}

func (s *ConvertServiceSuite) TestConvert_Single() {
	s.provider.EXPECT().Upload(gomock.Any(), provider.UploadInput{
		Filename:     "cat.png",
		Data:         make([]byte, 10),
		TargetFormat: "webp",
	}).Return(asset("love-u-convert/cat_1"), nil)

	result, err := s.service.Convert(s.ctx, models.Request{Files: []models.File{file("cat.png", 10)}, TargetFormat: "WebP"})

	s.Require().NoError(err)
	s.Equal(models.ModeSingle, result.Mode)
	s.Equal(models.StatusSuccess, result.Status)
	s.Equal("https://cdn.example.com/love-u-convert/cat_1", result.DownloadURL)
	s.Equal(models.SingleMeta{
		OriginalName:       "cat.png",
		ConvertedName:      "love-u-convert/cat_1",
		ConvertedSizeBytes: 42,
		OutputFormat:       "webp",
	}, result.Meta)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Requests.WithLabelValues("single", "ok")))
}

func (s *ConvertServiceSuite) TestConvert_DefaultFormatIsPNG() {
	s.provider.EXPECT().Upload(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, in provider.UploadInput) (*provider.Asset, error) {
			s.Equal("png", in.TargetFormat)
			return &provider.Asset{PublicID: "x"}, nil
		})

	result, err := s.service.Convert(s.ctx, models.Request{Files: []models.File{file("a.jpg", 1)}})
	s.Require().NoError(err)
	s.Equal("png", result.Meta.(models.SingleMeta).OutputFormat, "missing provider format falls back to target")
}

func (s *ConvertServiceSuite) TestConvert_SingleTooLarge() {
	_, err := s.service.Convert(s.ctx, models.Request{Files: []models.File{file("huge.png", 101)}})
	s.True(dErrors.Is(err, dErrors.CodePayloadTooLarge))
	s.ErrorContains(err, `"huge.png" is too large (101 B)`)
}

func (s *ConvertServiceSuite) TestConvert_SingleProviderErrors() {
	tests := []struct {
		err  error
		code dErrors.Code
	}{
		{fmt.Errorf("upload: %w", sentinel.ErrUnavailable), dErrors.CodeUnavailable},
		{fmt.Errorf("upload: %w", sentinel.ErrTooLarge), dErrors.CodePayloadTooLarge},
		{fmt.Errorf("upload: %w", provider.ErrRejected), dErrors.CodeBadRequest},
		{errors.New("boom"), dErrors.CodeInternal},
	}
	for _, tt := range tests {
		s.Run(string(tt.code), func() {
			s.provider.EXPECT().Upload(gomock.Any(), gomock.Any()).Return(nil, tt.err)
			_, err := s.service.Convert(s.ctx, models.Request{Files: []models.File{file("a.png", 1)}})
			s.True(dErrors.Is(err, tt.code), "got %v", err)
		})
	}
}

func (s *ConvertServiceSuite) TestConvert_MultiPartialFailure() {
	s.provider.EXPECT().Upload(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, in provider.UploadInput) (*provider.Asset, error) {
			switch in.Filename {
			case "a.png":
				return asset("id-a"), nil
			case "b.png":
				return nil, fmt.Errorf("upload: %w", provider.ErrRejected)
			default:
				return asset("id-d"), nil
			}
		}).Times(3)
	s.provider.EXPECT().ArchiveURL(gomock.Any(), []string{"id-a", "id-d"}).Return("https://zip.example.com/1.zip", nil)

	result, err := s.service.Convert(s.ctx, models.Request{Files: []models.File{
		file("a.png", 10),
		file("b.png", 10),
		file("c.png", 500),
		file("d.png", 10),
	}})

	s.Require().NoError(err)
	s.Equal(models.ModeMulti, result.Mode)
	s.Equal("https://zip.example.com/1.zip", result.ZipURL)
	s.Equal(models.MultiMeta{TotalFiles: 2, FailedFiles: 2}, result.Meta)
	s.Require().Len(result.Failures, 2)
	s.Equal(models.Failure{Filename: "b.png", Code: models.FailureRejected, Message: "The provider could not process this file"}, result.Failures[0])
	s.Equal("c.png", result.Failures[1].Filename)
	s.Equal(models.FailureTooLarge, result.Failures[1].Code)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Files.WithLabelValues("too_large")))
	s.Equal(2.0, testutil.ToFloat64(s.metrics.Files.WithLabelValues("converted")))
}

func (s *ConvertServiceSuite) TestConvert_MultiAllFailed() {
	s.provider.EXPECT().Upload(gomock.Any(), gomock.Any()).
		Return(nil, fmt.Errorf("upload: %w", sentinel.ErrUnavailable)).Times(2)

	_, err := s.service.Convert(s.ctx, models.Request{Files: []models.File{file("a.png", 1), file("b.png", 1)}})

	s.True(dErrors.Is(err, dErrors.CodeUnavailable))
	s.ErrorContains(err, "Failed to convert any files")
}

func (s *ConvertServiceSuite) TestConvert_ArchiveFailure() {
	s.provider.EXPECT().Upload(gomock.Any(), gomock.Any()).Return(asset("id"), nil).Times(2)
	s.provider.EXPECT().ArchiveURL(gomock.Any(), gomock.Any()).Return("", errors.New("signing failed"))

	_, err := s.service.Convert(s.ctx, models.Request{Files: []models.File{file("a.png", 1), file("b.png", 1)}})
	s.True(dErrors.Is(err, dErrors.CodeInternal))
}

func (s *ConvertServiceSuite) TestConvertURLs() {
	s.Run("guard rejects before any upload", func() {
		_, err := s.service.ConvertURLs(s.ctx, models.URLRequest{URLs: []string{
			"https://example.com/a.png",
			"http://127.0.0.1/x.png",
		}})
		s.True(dErrors.Is(err, dErrors.CodeBadRequest))
		s.ErrorContains(err, "URL not allowed")
	})

	s.Run("too many urls", func() {
		_, err := s.service.ConvertURLs(s.ctx, models.URLRequest{URLs: []string{"a", "b", "c", "d"}})
		s.True(dErrors.Is(err, dErrors.CodeBadRequest))
	})

	s.Run("empty", func() {
		_, err := s.service.ConvertURLs(s.ctx, models.URLRequest{})
		s.ErrorContains(err, "No URLs provided")
	})

	s.Run("single url is fetched by the provider", func() {
		s.provider.EXPECT().Upload(gomock.Any(), provider.UploadInput{
			Filename:     "dog.jpg",
			RemoteURL:    "https://example.com/pics/dog.jpg",
			TargetFormat: "png",
		}).Return(asset("dog"), nil)

		result, err := s.service.ConvertURLs(s.ctx, models.URLRequest{URLs: []string{"https://example.com/pics/dog.jpg"}, TargetFormat: "png"})
		s.Require().NoError(err)
		s.Equal(models.ModeSingle, result.Mode)
		s.Equal("dog.jpg", result.Meta.(models.SingleMeta).OriginalName)
	})
}
