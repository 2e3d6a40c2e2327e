// Package ports defines the interfaces the admission module depends on.
package ports

import (
	"context"

	"imgconvert/internal/admission/models"
	"imgconvert/pkg/platform/audit"
)

// CounterStore runs the dual-limit check atomically against the shared store.
// Implementations must not split the check into separate reads and writes.
type CounterStore interface {
	Check(ctx context.Context, in models.CheckInput) (*models.Result, error)
}

// AuditPublisher emits audit events for admission denials.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}
