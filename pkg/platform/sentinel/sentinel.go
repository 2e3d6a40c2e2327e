package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, provider clients and other
// infrastructure layers return these (optionally wrapped) so services can
// translate them into domain errors.
//
// - ErrNotFound: resource does not exist
// - ErrUnavailable: backing service unreachable or failing
// - ErrProtocol: backing service answered with something we cannot interpret
// - ErrTooLarge: payload exceeds a backing service limit
var (
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("unavailable")
	ErrProtocol    = errors.New("protocol violation")
	ErrTooLarge    = errors.New("too large")
)
