package publisher

import (
	"context"
	"sync"
	"testing"
	"time"

	audit "imgconvert/pkg/platform/audit"
	"imgconvert/pkg/platform/audit/store/memory"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	subject := uuid.NewString()
	event := audit.Event{
		Subject: subject,
		Action: audit.EventAdmissionRateLimited,
	}

	err := pub.Emit(context.Background(), event)
	require.NoError(t, err)

	events, err := pub.List(context.Background(), subject)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventAdmissionRateLimited, events[0].Action)
}

func TestPublisher_AsyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(10))
	defer pub.Close()

	subject := uuid.NewString()
	event := audit.Event{
		Subject: subject,
		Action: audit.EventAdmissionQuotaReached,
	}

	err := pub.Emit(context.Background(), event)
	require.NoError(t, err)

	// Wait for async processing
	time.Sleep(100 * time.Millisecond)

	events, err := pub.List(context.Background(), subject)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventAdmissionQuotaReached, events[0].Action)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	subject := uuid.NewString()

	// Emit multiple events
	for range 10 {
		event := audit.Event{
			Subject: subject,
			Action: audit.EventAdmissionRateLimited,
		}
		err := pub.Emit(context.Background(), event)
		require.NoError(t, err)
	}

	// Close should drain all events
	pub.Close()

	events, err := store.ListBySubject(context.Background(), subject)
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
}

func TestPublisher_BufferFull_DropsEvent(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(1))
	defer pub.Close()

	subject := uuid.NewString()

	// Fill the buffer with concurrent writes
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			event := audit.Event{
				Subject: subject,
				Action: audit.EventAdmissionRateLimited,
			}
			_ = pub.Emit(context.Background(), event)
		}()
	}
	wg.Wait()

	// Some events should have been dropped (buffer size 1)
	// Just verify no panic and publisher still works
}

func TestPublisher_SetsTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	subject := uuid.NewString()
	event := audit.Event{
		Subject: subject,
		Action: audit.EventAdmissionRateLimited,
		// Timestamp not set
	}

	before := time.Now()
	err := pub.Emit(context.Background(), event)
	require.NoError(t, err)
	after := time.Now()

	events, err := pub.List(context.Background(), subject)
	require.NoError(t, err)
	require.Len(t, events, 1)

	assert.True(t, !events[0].Timestamp.Before(before), "timestamp should be >= before")
	assert.True(t, !events[0].Timestamp.After(after), "timestamp should be <= after")
}

func TestPublisher_PreservesExistingTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	subject := uuid.NewString()
	customTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	event := audit.Event{
		Subject:    subject,
		Action:    audit.EventAdmissionRateLimited,
		Timestamp: customTime,
	}

	err := pub.Emit(context.Background(), event)
	require.NoError(t, err)

	events, err := pub.List(context.Background(), subject)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, customTime, events[0].Timestamp)
}

func TestPublisher_ContextCancellation(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(1))
	defer pub.Close()

	// Fill buffer first
	_ = pub.Emit(context.Background(), audit.Event{
		Subject: uuid.NewString(),
		Action: audit.EventAdmissionRateLimited,
	})

	// Wait for the event to be processed
	time.Sleep(50 * time.Millisecond)

	// Fill buffer again
	_ = pub.Emit(context.Background(), audit.Event{
		Subject: uuid.NewString(),
		Action: audit.EventAdmissionRateLimited,
	})

	// Try to emit with cancelled context when buffer is full
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := pub.Emit(ctx, audit.Event{
		Subject: uuid.NewString(),
		Action: audit.EventAdmissionRateLimited,
	})

	// Should either succeed (buffer not full) or return context error or buffer full error
	if err != nil {
		assert.True(t, err == context.Canceled || err.Error() == "audit buffer full",
			"expected context.Canceled or buffer full error, got: %v", err)
	}
}

func TestPublisher_MultipleEvents(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	subject := uuid.NewString()

	events := []audit.Event{
		{Subject: subject, Action: audit.EventAdmissionRateLimited},
		{Subject: subject, Action: audit.EventAdmissionQuotaReached},
		{Subject: subject, Action: audit.EventCleanupCompleted},
	}

	for _, event := range events {
		err := pub.Emit(context.Background(), event)
		require.NoError(t, err)
	}

	result, err := pub.List(context.Background(), subject)
	require.NoError(t, err)
	require.Len(t, result, 3)

	assert.Equal(t, audit.EventAdmissionRateLimited, result[0].Action)
	assert.Equal(t, audit.EventAdmissionQuotaReached, result[1].Action)
	assert.Equal(t, audit.EventCleanupCompleted, result[2].Action)
}

func TestPublisher_DifferentSubjects(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	subject1 := uuid.NewString()
	subject2 := uuid.NewString()

	err := pub.Emit(context.Background(), audit.Event{
		Subject: subject1,
		Action: audit.EventAdmissionRateLimited,
	})
	require.NoError(t, err)

	err = pub.Emit(context.Background(), audit.Event{
		Subject: subject2,
		Action: audit.EventAdmissionQuotaReached,
	})
	require.NoError(t, err)

	events1, err := pub.List(context.Background(), subject1)
	require.NoError(t, err)
	require.Len(t, events1, 1)
	assert.Equal(t, audit.EventAdmissionRateLimited, events1[0].Action)

	events2, err := pub.List(context.Background(), subject2)
	require.NoError(t, err)
	require.Len(t, events2, 1)
	assert.Equal(t, audit.EventAdmissionQuotaReached, events2[0].Action)
}
