package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/w-h-a/memories/embedder"
	"github.com/w-h-a/memories/storer"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultRecentLimit = 1
	DefaultSearchLimit = 5
	DefaultMaxLimit    = 100

	instrumentation = "github.com/w-h-a/memories/internal/service/memory"
)

// Summary is the projection returned by both retrieval operations.
type Summary struct {
	Id                 string                      `json:"id"`
	CreatedAt          time.Time                   `json:"created_at"`
	Structured         storer.Structured           `json:"structured"`
	Status             string                      `json:"status"`
	TranscriptSegments *[]storer.TranscriptSegment `json:"transcript_segments,omitempty"`
}

type RecentQuery struct {
	Limit              int
	IncludeTranscripts bool
	Start              time.Time
	End                time.Time
	ExcludeDeleted     bool
}

type Service struct {
	store      storer.Storer
	embedder   embedder.Embedder
	dimensions int
	maxLimit   int
	tracer     trace.Tracer
	ingested   metric.Int64Counter
	results    metric.Int64Histogram
	embedTime  metric.Float64Histogram
}

// Ingest validates the payload, embeds its text and writes exactly one record.
// Nothing is written when validation or embedding fails.
func (s *Service) Ingest(ctx context.Context, userId string, p Payload) (string, error) {
	ctx, span := s.tracer.Start(ctx, "memory.Ingest", trace.WithAttributes(attribute.String("user_id", userId)))
	defer span.End()

	if len(strings.TrimSpace(userId)) == 0 {
		return "", fmt.Errorf("%w: uid is required", ErrValidation)
	}

	if err := validateStruct(p); err != nil {
		return "", err
	}

	if len(strings.TrimSpace(p.Id)) == 0 {
		p.Id = uuid.New().String()
	}

	vector, err := s.embed(ctx, EmbeddingText(p))
	if err != nil {
		return "", err
	}

	id, err := s.store.Insert(ctx, p.record(userId, vector))
	if err != nil {
		return "", err
	}

	s.ingested.Add(ctx, 1)

	slog.InfoContext(ctx, "memory created", "user_id", userId, "memory_id", id, "title", p.Structured.Title)

	return id, nil
}

// Recent returns the newest records of a user, newest first.
func (s *Service) Recent(ctx context.Context, userId string, q RecentQuery) ([]Summary, error) {
	ctx, span := s.tracer.Start(ctx, "memory.Recent", trace.WithAttributes(attribute.String("user_id", userId)))
	defer span.End()

	if len(strings.TrimSpace(userId)) == 0 {
		return nil, fmt.Errorf("%w: user_id is required", ErrValidation)
	}

	limit, err := s.limit(q.Limit, DefaultRecentLimit)
	if err != nil {
		return nil, err
	}

	opts := []storer.ListOption{storer.WithLimit(limit)}

	if !q.Start.IsZero() && !q.End.IsZero() {
		if q.End.Before(q.Start) {
			return nil, fmt.Errorf("%w: end_date must not be before start_date", ErrValidation)
		}
		opts = append(opts, storer.WithCreatedBetween(q.Start, q.End))
	}

	if q.ExcludeDeleted {
		opts = append(opts, storer.WithExcludeDeleted())
	}

	records, err := s.store.ListByUser(ctx, userId, opts...)
	if err != nil {
		return nil, err
	}

	return summarize(records, q.IncludeTranscripts), nil
}

// Search returns the records of a user nearest to the query text. No distance
// threshold is applied.
func (s *Service) Search(ctx context.Context, userId string, query string, limit int) ([]Summary, error) {
	ctx, span := s.tracer.Start(ctx, "memory.Search", trace.WithAttributes(attribute.String("user_id", userId)))
	defer span.End()

	if len(strings.TrimSpace(userId)) == 0 {
		return nil, fmt.Errorf("%w: user_id is required", ErrValidation)
	}

	if len(strings.TrimSpace(query)) == 0 {
		return nil, fmt.Errorf("%w: query is required", ErrValidation)
	}

	limit, err := s.limit(limit, DefaultSearchLimit)
	if err != nil {
		return nil, err
	}

	vector, err := s.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	records, err := s.store.NearestByEmbedding(ctx, userId, vector, limit)
	if err != nil {
		return nil, err
	}

	s.results.Record(ctx, int64(len(records)))

	return summarize(records, false), nil
}

func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vector, err := s.embedder.Embed(ctx, text)
	s.embedTime.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}

	if len(vector) != s.dimensions {
		return nil, fmt.Errorf("%w: embedding has %d dimensions, want %d", ErrProvider, len(vector), s.dimensions)
	}

	return vector, nil
}

// limit applies the default to an unset value and rejects anything outside [1, maxLimit].
func (s *Service) limit(n int, def int) (int, error) {
	if n == 0 {
		return def, nil
	}
	if n < 0 || n > s.maxLimit {
		return 0, fmt.Errorf("%w: limit must be between 1 and %d", ErrValidation, s.maxLimit)
	}
	return n, nil
}

func summarize(records []storer.Record, withTranscripts bool) []Summary {
	summaries := make([]Summary, 0, len(records))

	for _, rec := range records {
		sum := Summary{
			Id:         rec.Id,
			CreatedAt:  rec.CreatedAt,
			Structured: rec.Structured,
			Status:     rec.Status,
		}

		if withTranscripts {
			segments := rec.TranscriptSegments
			if segments == nil {
				segments = []storer.TranscriptSegment{}
			}
			sum.TranscriptSegments = &segments
		}

		summaries = append(summaries, sum)
	}

	return summaries
}

func New(
	store storer.Storer,
	embedder embedder.Embedder,
	opts ...Option,
) *Service {
	options := NewOptions(opts...)

	meter := otel.Meter(instrumentation)

	ingested, err := meter.Int64Counter(
		"memories.ingested",
		metric.WithDescription("Memories written to the store"),
		metric.WithUnit("{memory}"),
	)
	if err != nil {
		slog.Warn("failed to create ingested counter", "error", err)
		ingested = noop.Int64Counter{}
	}

	results, err := meter.Int64Histogram(
		"memories.search.results",
		metric.WithDescription("Records returned per semantic search"),
		metric.WithUnit("{memory}"),
	)
	if err != nil {
		slog.Warn("failed to create search results histogram", "error", err)
		results = noop.Int64Histogram{}
	}

	embedTime, err := meter.Float64Histogram(
		"memories.embed.duration",
		metric.WithDescription("Latency of embedding provider calls"),
		metric.WithUnit("s"),
	)
	if err != nil {
		slog.Warn("failed to create embed duration histogram", "error", err)
		embedTime = noop.Float64Histogram{}
	}

	return &Service{
		store:      store,
		embedder:   embedder,
		dimensions: options.Dimensions,
		maxLimit:   options.MaxLimit,
		tracer:     otel.Tracer(instrumentation),
		ingested:   ingested,
		results:    results,
		embedTime:  embedTime,
	}
}
