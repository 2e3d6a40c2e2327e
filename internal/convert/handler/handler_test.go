package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"imgconvert/internal/convert/handler/mocks"
	"imgconvert/internal/convert/models"
	"imgconvert/internal/upload"
	dErrors "imgconvert/pkg/domain-errors"
	"imgconvert/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service
type ConvertHandlerSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	svc     *mocks.MockService
	handler *Handler
}

func TestConvertHandlerSuite(t *testing.T) {
	suite.Run(t, new(ConvertHandlerSuite))
}

func (s *ConvertHandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.svc = mocks.NewMockService(s.ctrl)
	s.handler = New(s.svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (s *ConvertHandlerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ConvertHandlerSuite) TestHandleConvert_PassesDecodedFiles() {
	s.svc.EXPECT().Convert(gomock.Any(), models.Request{
		Files:        []models.File{{Filename: "a.png", Data: []byte("abc"), Size: 3}},
		TargetFormat: "webp",
	}).Return(&models.Result{
		Status:      models.StatusSuccess,
		Mode:        models.ModeSingle,
		DownloadURL: "https://cdn.example.com/a.webp",
		Meta:        models.SingleMeta{OriginalName: "a.png", ConvertedName: "f/a", ConvertedSizeBytes: 2, OutputFormat: "webp"},
	}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/convert", nil)
	ctx := upload.WithForm(req.Context(), &upload.Form{
		Files:  []upload.File{{Filename: "a.png", Data: []byte("abc"), Size: 3, ContentType: "image/png"}},
		Fields: map[string]string{"targetFormat": "webp"},
	})
	ctx = requestcontext.WithAdmission(ctx, requestcontext.AdmissionUsage{TokensAfter: 4, NewQuota: 3})

	w := httptest.NewRecorder()
	s.handler.HandleConvert(w, req.WithContext(ctx))

	s.Equal(http.StatusOK, w.Code)
	s.JSONEq(`{
		"status": "success",
		"mode": "single",
		"downloadUrl": "https://cdn.example.com/a.webp",
		"meta": {"originalName": "a.png", "convertedName": "f/a", "convertedSizeBytes": 2, "outputFormat": "webp"}
	}`, w.Body.String())
}

func (s *ConvertHandlerSuite) TestHandleConvert_NoFormMeansNoFiles() {
	s.svc.EXPECT().Convert(gomock.Any(), models.Request{}).
		Return(nil, dErrors.New(dErrors.CodeBadRequest, "No files provided"))

	w := httptest.NewRecorder()
	s.handler.HandleConvert(w, httptest.NewRequest(http.MethodPost, "/api/convert", nil))

	s.Equal(http.StatusBadRequest, w.Code)
	s.JSONEq(`{"success":false,"error":{"code":"bad_request","message":"No files provided"}}`, w.Body.String())
}

func (s *ConvertHandlerSuite) TestHandleConvert_MultiWithFailures() {
	s.svc.EXPECT().Convert(gomock.Any(), gomock.Any()).Return(&models.Result{
		Status:   models.StatusSuccess,
		Mode:     models.ModeMulti,
		ZipURL:   "https://zip.example.com/x.zip",
		Meta:     models.MultiMeta{TotalFiles: 1, FailedFiles: 1},
		Failures: []models.Failure{{Filename: "b.png", Code: models.FailureRejected, Message: "nope"}},
	}, nil)

	w := httptest.NewRecorder()
	s.handler.HandleConvert(w, httptest.NewRequest(http.MethodPost, "/api/convert", nil))

	s.Equal(http.StatusOK, w.Code)
	s.JSONEq(`{
		"status": "success",
		"mode": "multi",
		"zipUrl": "https://zip.example.com/x.zip",
		"meta": {"totalFiles": 1, "failedFiles": 1},
		"failures": [{"filename": "b.png", "code": "PROVIDER_REJECTED", "message": "nope"}]
	}`, w.Body.String())
}

func (s *ConvertHandlerSuite) TestHandleConvert_ErrorStatuses() {
	tests := []struct {
		code   dErrors.Code
		status int
	}{
		{dErrors.CodeUnsupportedFormat, http.StatusUnprocessableEntity},
		{dErrors.CodePayloadTooLarge, http.StatusRequestEntityTooLarge},
		{dErrors.CodeUnavailable, http.StatusBadGateway},
		{dErrors.CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		s.Run(string(tt.code), func() {
			s.svc.EXPECT().Convert(gomock.Any(), gomock.Any()).Return(nil, dErrors.New(tt.code, "x"))
			w := httptest.NewRecorder()
			s.handler.HandleConvert(w, httptest.NewRequest(http.MethodPost, "/api/convert", nil))
			s.Equal(tt.status, w.Code)
		})
	}
}

func (s *ConvertHandlerSuite) TestHandleConvertURLs() {
	s.svc.EXPECT().ConvertURLs(gomock.Any(), models.URLRequest{
		URLs:         []string{"https://example.com/a.png"},
		TargetFormat: "jpg",
	}).Return(&models.Result{Status: models.StatusSuccess, Mode: models.ModeSingle, Meta: models.SingleMeta{}}, nil)

	body := `{"urls":["https://example.com/a.png"],"targetFormat":"jpg"}`
	w := httptest.NewRecorder()
	s.handler.HandleConvertURLs(w, httptest.NewRequest(http.MethodPost, "/api/convert/url", strings.NewReader(body)))

	s.Equal(http.StatusOK, w.Code)
}

func (s *ConvertHandlerSuite) TestHandleConvertURLs_BadJSON() {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/convert/url", strings.NewReader(`{"urls":`))
	s.handler.HandleConvertURLs(w, req.WithContext(context.Background()))

	s.Equal(http.StatusBadRequest, w.Code)
}
