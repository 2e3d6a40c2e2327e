package provider

import "errors"

// ErrRejected means the provider understood the request and refused it, for
// example because the file is not a decodable image.
var ErrRejected = errors.New("rejected by provider")
