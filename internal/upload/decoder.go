package upload

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/gabriel-vasile/mimetype"

	"imgconvert/pkg/platform/httputil"
	"imgconvert/pkg/requestcontext"
)

// Error codes written by the decoder.
const (
	CodeFileTooLarge = "FILE_TOO_LARGE"
	CodeParseError   = "PARSE_ERROR"
	CodeTooManyFiles = "TOO_MANY_FILES"
)

const (
	maxFieldBytes = 64 << 10
	// envelope slack for part headers and small fields on top of file payloads
	maxOverheadBytes = 1 << 20
)

var (
	errTooLarge     = errors.New("file exceeds maximum size")
	errTooManyFiles = errors.New("too many files")
)

// Decoder buffers multipart uploads in memory and puts them on the request
// context. Non-multipart requests pass through untouched.
type Decoder struct {
	maxFileBytes int64
	maxFiles     int
	logger       *slog.Logger
}

func New(maxFileBytes int64, maxFiles int, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{
		maxFileBytes: maxFileBytes,
		maxFiles:     maxFiles,
		logger:       logger,
	}
}

func (d *Decoder) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "multipart/form-data" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		requestID := requestcontext.RequestID(ctx)

		boundary := params["boundary"]
		if boundary == "" {
			d.logger.WarnContext(ctx, "multipart request without boundary", "request_id", requestID)
			httputil.WriteErrorCode(w, http.StatusBadRequest, CodeParseError, "Failed to parse multipart form data.")
			return
		}

		limit := int64(d.maxFiles)*(d.maxFileBytes+1) + maxOverheadBytes
		body := http.MaxBytesReader(w, r.Body, limit)
		form, err := d.decode(multipart.NewReader(body, boundary))

		var maxBytesErr *http.MaxBytesError
		switch {
		case err == nil:
		case errors.Is(err, errTooLarge), errors.As(err, &maxBytesErr):
			d.logger.WarnContext(ctx, "upload rejected: file exceeded size limit",
				"request_id", requestID,
				"max_file_bytes", d.maxFileBytes,
			)
			httputil.WriteErrorCode(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge,
				"One or more files exceeded the maximum allowed size.")
			return
		case errors.Is(err, errTooManyFiles):
			httputil.WriteErrorCode(w, http.StatusBadRequest, CodeTooManyFiles,
				fmt.Sprintf("At most %d files are accepted per request.", d.maxFiles))
			return
		default:
			d.logger.WarnContext(ctx, "failed to parse multipart body", "request_id", requestID, "error", err)
			httputil.WriteErrorCode(w, http.StatusBadRequest, CodeParseError, "Failed to parse multipart form data.")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithForm(ctx, form)))
	})
}

// decode reads every part. An oversize file is drained and decoding continues
// so the whole body is consumed before the request is rejected.
func (d *Decoder) decode(mr *multipart.Reader) (*Form, error) {
	form := &Form{Fields: make(map[string]string)}
	tooLarge := false

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		if part.FileName() == "" {
			value, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
			_ = part.Close()
			if err != nil {
				return nil, err
			}
			form.Fields[part.FormName()] = string(value)
			continue
		}

		if len(form.Files) >= d.maxFiles {
			_ = part.Close()
			return nil, errTooManyFiles
		}

		file, err := d.readFile(part)
		_ = part.Close()
		if errors.Is(err, errTooLarge) {
			tooLarge = true
			continue
		}
		if err != nil {
			return nil, err
		}
		form.Files = append(form.Files, *file)
	}

	if tooLarge {
		return nil, errTooLarge
	}
	return form, nil
}

func (d *Decoder) readFile(part *multipart.Part) (*File, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(part, d.maxFileBytes+1))
	if err != nil {
		return nil, err
	}
	if n > d.maxFileBytes {
		if _, err := io.Copy(io.Discard, part); err != nil {
			return nil, err
		}
		return nil, errTooLarge
	}

	data := buf.Bytes()
	contentType := mimetype.Detect(data).String()
	return &File{
		Field:       part.FormName(),
		Filename:    part.FileName(),
		ContentType: contentType,
		Size:        n,
		Data:        data,
	}, nil
}
