package models

import (
	"fmt"
	"slices"
	"strings"
)

// DefaultTargetFormat applies when a request names no format.
const DefaultTargetFormat = "png"

// SupportedFormats are the output formats the provider is asked to produce.
var SupportedFormats = []string{"png", "jpg", "jpeg", "webp", "gif", "bmp", "tiff", "avif", "ico", "psd"}

// NormalizeFormat lowercases and trims format, defaulting to png, and rejects
// formats outside SupportedFormats. A leading dot is accepted.
func NormalizeFormat(format string) (string, error) {
	f := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
	if f == "" {
		return DefaultTargetFormat, nil
	}
	if !slices.Contains(SupportedFormats, f) {
		return "", fmt.Errorf("unsupported target format %q", format)
	}
	return f, nil
}
