package counter

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"imgconvert/internal/admission/models"
	"imgconvert/pkg/platform/sentinel"
)

// RedisStore runs the admission script against Redis. All state for a
// (day, client) pair lives in the two keys the script touches.
type RedisStore struct {
	client redis.Scripter
	tracer trace.Tracer
}

type Option func(*RedisStore)

func WithTracer(tracer trace.Tracer) Option {
	return func(s *RedisStore) {
		s.tracer = tracer
	}
}

func New(client redis.Scripter, opts ...Option) *RedisStore {
	s := &RedisStore{
		client: client,
		tracer: otel.Tracer("imgconvert/admission"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check executes one atomic admission check. Transport and script failures
// wrap sentinel.ErrUnavailable; replies the store should never produce wrap
// sentinel.ErrProtocol.
func (s *RedisStore) Check(ctx context.Context, in models.CheckInput) (*models.Result, error) {
	ctx, span := s.tracer.Start(ctx, "admission.script",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "redis"),
			attribute.Int64("admission.units", in.Cost.Units),
			attribute.Int64("admission.bytes", in.Cost.Bytes),
		))
	defer span.End()

	reply, err := admissionScript.Run(ctx, s.client,
		[]string{in.Keys.Tokens, in.Keys.Quota},
		in.Now.UnixMilli(),
		in.Cost.Units,
		in.Cost.Bytes,
		in.Limits.Capacity,
		formatDecimal(in.Limits.RefillPerMs),
		in.Limits.DailyBytesLimit,
		in.Limits.TTLSeconds,
	).Slice()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "admission script failed")
		return nil, fmt.Errorf("%w: admission script: %v", sentinel.ErrUnavailable, err)
	}

	result, err := parseReply(reply)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed admission reply")
		return nil, err
	}
	span.SetAttributes(attribute.String("admission.status", string(result.Status)))
	return result, nil
}

// formatDecimal renders f without an exponent. Lua's tonumber is not required
// to accept exponent notation.
func formatDecimal(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func parseReply(reply []any) (*models.Result, error) {
	if len(reply) < 2 {
		return nil, fmt.Errorf("%w: admission reply has %d elements", sentinel.ErrProtocol, len(reply))
	}
	raw, ok := reply[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: admission status is %T", sentinel.ErrProtocol, reply[0])
	}
	status, err := models.ParseStatus(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sentinel.ErrProtocol, err)
	}

	tokens, err := toFloat(reply[1])
	if err != nil {
		return nil, fmt.Errorf("%w: tokens: %v", sentinel.ErrProtocol, err)
	}
	result := &models.Result{Status: status, Tokens: tokens}

	if status == models.StatusRateLimitExceeded {
		return result, nil
	}
	if len(reply) < 3 {
		return nil, fmt.Errorf("%w: %s reply without quota", sentinel.ErrProtocol, status)
	}
	quota, err := toFloat(reply[2])
	if err != nil {
		return nil, fmt.Errorf("%w: quota: %v", sentinel.ErrProtocol, err)
	}
	result.Quota = int64(math.Round(quota))
	return result, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case string:
		return strconv.ParseFloat(n, 64)
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
