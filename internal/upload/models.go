package upload

import "context"

// File is one decoded multipart file part held in memory.
type File struct {
	Field       string
	Filename    string
	ContentType string
	Size        int64
	Data        []byte
}

// Form is everything the decoder read from a multipart request.
type Form struct {
	Files  []File
	Fields map[string]string
}

// Sizes returns the byte size of every file in request order.
func (f *Form) Sizes() []int64 {
	if f == nil {
		return nil
	}
	sizes := make([]int64, len(f.Files))
	for i, file := range f.Files {
		sizes[i] = file.Size
	}
	return sizes
}

// Field returns a non-file form value.
func (f *Form) Field(name string) string {
	if f == nil {
		return ""
	}
	return f.Fields[name]
}

type formKey struct{}

// WithForm attaches a decoded form to the context.
func WithForm(ctx context.Context, form *Form) context.Context {
	return context.WithValue(ctx, formKey{}, form)
}

// FromContext returns the form attached by the decoder, if any.
func FromContext(ctx context.Context) (*Form, bool) {
	form, ok := ctx.Value(formKey{}).(*Form)
	return form, ok && form != nil
}
