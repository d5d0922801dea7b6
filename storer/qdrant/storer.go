package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/w-h-a/memories/storer"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var (
	errNotFound    = errors.New("qdrant: not found")
	scrollPageSize = 256
)

type qdrantStorer struct {
	options    storer.Options
	collection string
	apiKey     string
	client     *http.Client
}

func (s *qdrantStorer) Insert(ctx context.Context, rec storer.Record) (string, error) {
	if len(rec.Embedding) != s.options.Dimensions {
		return "", fmt.Errorf("%w: embedding has %d dimensions, want %d", storer.ErrConstraintViolation, len(rec.Embedding), s.options.Dimensions)
	}

	pointId := pointId(rec.Id)

	exists, err := s.pointExists(ctx, pointId)
	if err != nil {
		return "", fmt.Errorf("%w: lookup %s: %w", storer.ErrStore, rec.Id, err)
	}

	if exists {
		return "", fmt.Errorf("%w: memory %s already exists", storer.ErrConstraintViolation, rec.Id)
	}

	point := qdrantPoint{
		Id:     pointId,
		Vector: rec.Embedding,
		Payload: qdrantPayload{
			UserId:        rec.UserId,
			CreatedAtUnix: unix(rec.CreatedAt),
			Deleted:       rec.Deleted,
			Record:        rec,
		},
	}

	req := map[string]any{
		"points": []qdrantPoint{point},
	}

	var rsp qdrantEnvelope[json.RawMessage]

	if err := s.do(ctx, http.MethodPut, s.path("/points?wait=true"), req, &rsp); err != nil {
		return "", fmt.Errorf("%w: upsert %s: %w", storer.ErrStore, rec.Id, err)
	}

	if !strings.EqualFold(rsp.Status.State, "ok") && len(rsp.Status.Error) > 0 {
		return "", fmt.Errorf("%w: upsert %s: %s", storer.ErrStore, rec.Id, rsp.Status.Error)
	}

	return rec.Id, nil
}

func (s *qdrantStorer) ListByUser(ctx context.Context, userId string, opts ...storer.ListOption) ([]storer.Record, error) {
	options := storer.NewListOptions(opts...)

	if options.Limit < 1 {
		return []storer.Record{}, nil
	}

	must := []map[string]any{
		{
			"key":   "user_id",
			"match": map[string]any{"value": userId},
		},
	}

	if options.HasRange() {
		must = append(must, map[string]any{
			"key": "created_at_unix",
			"range": map[string]any{
				"gte": unix(options.Start),
				"lte": unix(options.End),
			},
		})
	}

	filter := map[string]any{"must": must}

	if options.ExcludeDeleted {
		filter["must_not"] = []map[string]any{
			{
				"key":   "deleted",
				"match": map[string]any{"value": true},
			},
		}
	}

	req := map[string]any{
		"filter":       filter,
		"limit":        options.Limit,
		"with_payload": true,
		"with_vector":  true,
		"order_by": map[string]any{
			"key":       "created_at_unix",
			"direction": "desc",
		},
	}

	var rsp qdrantEnvelope[qdrantScrollResult]

	if err := s.do(ctx, http.MethodPost, s.path("/points/scroll"), req, &rsp); err != nil {
		return nil, fmt.Errorf("%w: scroll: %w", storer.ErrStore, err)
	}

	points := rsp.Result.Points

	// order_by ignores the id tie-break, so a full page may have cut through
	// records sharing the oldest timestamp. Replace that slice with all of them.
	if len(points) == options.Limit {
		boundary := points[len(points)-1].Payload.CreatedAtUnix

		tieFilter := map[string]any{
			"must": append(append([]map[string]any{}, must...), map[string]any{
				"key":   "created_at_unix",
				"range": map[string]any{"gte": boundary, "lte": boundary},
			}),
		}
		if mustNot, ok := filter["must_not"]; ok {
			tieFilter["must_not"] = mustNot
		}

		ties, err := s.scrollAll(ctx, tieFilter)
		if err != nil {
			return nil, fmt.Errorf("%w: scroll ties: %w", storer.ErrStore, err)
		}

		newer := make([]qdrantPointResult, 0, len(points)+len(ties))
		for _, point := range points {
			if point.Payload.CreatedAtUnix != boundary {
				newer = append(newer, point)
			}
		}

		points = append(newer, ties...)
	}

	records := toRecords(points)

	storer.SortByRecency(records)

	return storer.Truncate(records, options.Limit), nil
}

func (s *qdrantStorer) NearestByEmbedding(ctx context.Context, userId string, vector []float32, limit int) ([]storer.Record, error) {
	if limit < 1 {
		return []storer.Record{}, nil
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_vector":  true,
		"with_payload": true,
		"filter": map[string]any{
			"must": []map[string]any{
				{
					"key":   "user_id",
					"match": map[string]any{"value": userId},
				},
			},
		},
	}

	var rsp qdrantEnvelope[[]qdrantPointResult]

	if err := s.do(ctx, http.MethodPost, s.path("/points/search"), req, &rsp); err != nil {
		return nil, fmt.Errorf("%w: search: %w", storer.ErrStore, err)
	}

	points := rsp.Result

	sort.SliceStable(points, func(i, j int) bool {
		if points[i].Score != points[j].Score {
			return points[i].Score > points[j].Score
		}
		return points[i].Payload.Record.Id < points[j].Payload.Record.Id
	})

	return toRecords(points), nil
}

func (s *qdrantStorer) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// scrollAll pages through every point matching filter in qdrant's own order.
func (s *qdrantStorer) scrollAll(ctx context.Context, filter map[string]any) ([]qdrantPointResult, error) {
	points := []qdrantPointResult{}

	var offset any

	for {
		req := map[string]any{
			"filter":       filter,
			"limit":        scrollPageSize,
			"with_payload": true,
			"with_vector":  true,
		}
		if offset != nil {
			req["offset"] = offset
		}

		var rsp qdrantEnvelope[qdrantScrollResult]

		if err := s.do(ctx, http.MethodPost, s.path("/points/scroll"), req, &rsp); err != nil {
			return nil, err
		}

		points = append(points, rsp.Result.Points...)

		if rsp.Result.NextPageOffset == nil {
			return points, nil
		}

		offset = rsp.Result.NextPageOffset
	}
}

func (s *qdrantStorer) pointExists(ctx context.Context, id string) (bool, error) {
	req := map[string]any{
		"ids":          []string{id},
		"with_payload": false,
	}

	var rsp qdrantEnvelope[[]qdrantPointResult]

	if err := s.do(ctx, http.MethodPost, s.path("/points"), req, &rsp); err != nil {
		return false, err
	}

	return len(rsp.Result) > 0, nil
}

func (s *qdrantStorer) do(ctx context.Context, method string, path string, req any, rsp any) error {
	u := s.options.Location + path
	var buf io.Reader
	if req != nil {
		data, err := json.Marshal(req)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(data)
	}

	request, err := http.NewRequestWithContext(ctx, method, u, buf)
	if err != nil {
		return err
	}

	request.Header.Set("Content-Type", "application/json")

	if len(s.apiKey) > 0 {
		request.Header.Set("api-key", s.apiKey)
	}

	response, err := s.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}

	if response.StatusCode == http.StatusNotFound {
		return errNotFound
	}

	if response.StatusCode >= 400 {
		return fmt.Errorf("qdrant http %d: %s", response.StatusCode, string(payload))
	}

	if rsp != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, rsp); err != nil {
			return err
		}
	}

	return nil
}

func (s *qdrantStorer) path(suffix string) string {
	return "/collections/" + url.PathEscape(s.collection) + suffix
}

// configure creates the collection and the payload indexes that filtering
// and ordering rely on. Both calls are idempotent.
func (s *qdrantStorer) configure(ctx context.Context) error {
	exists, err := s.collectionExists(ctx)
	if err != nil {
		return err
	}

	if !exists {
		if err := s.createCollection(ctx); err != nil {
			return err
		}
	}

	indexes := []struct {
		field  string
		schema string
	}{
		{"user_id", "keyword"},
		{"created_at_unix", "float"},
		{"deleted", "bool"},
	}

	for _, index := range indexes {
		req := map[string]any{
			"field_name":   index.field,
			"field_schema": index.schema,
		}

		if err := s.do(ctx, http.MethodPut, s.path("/index?wait=true"), req, nil); err != nil {
			return fmt.Errorf("create %s index: %w", index.field, err)
		}
	}

	return nil
}

func (s *qdrantStorer) collectionExists(ctx context.Context) (bool, error) {
	var rsp qdrantEnvelope[json.RawMessage]

	err := s.do(ctx, http.MethodGet, s.path(""), nil, &rsp)
	if errors.Is(err, errNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return strings.EqualFold(rsp.Status.State, "ok"), nil
}

func (s *qdrantStorer) createCollection(ctx context.Context) error {
	req := map[string]any{
		"vectors": map[string]any{
			"size":     s.options.Dimensions,
			"distance": "Cosine",
		},
	}

	var rsp qdrantEnvelope[json.RawMessage]

	if err := s.do(ctx, http.MethodPut, s.path(""), req, &rsp); err != nil {
		return err
	}

	if !strings.EqualFold(rsp.Status.State, "ok") {
		return errors.New(rsp.Status.Error)
	}

	return nil
}

// pointId maps a memory id onto the UUID space qdrant accepts for point ids.
func pointId(memoryId string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("memories:"+memoryId)).String()
}

func unix(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func toRecords(points []qdrantPointResult) []storer.Record {
	records := make([]storer.Record, 0, len(points))

	for _, point := range points {
		rec := point.Payload.Record
		rec.Embedding = point.Vector
		records = append(records, rec)
	}

	return records
}

func NewStorer(opts ...storer.Option) (storer.Storer, error) {
	options := storer.NewOptions(opts...)

	if len(options.Location) == 0 {
		return nil, fmt.Errorf("%w: missing location for qdrant storer", storer.ErrStore)
	}

	options.Location = strings.TrimRight(options.Location, "/")

	collection, ok := CollectionFrom(options.Context)
	if !ok || len(collection) == 0 {
		collection = DefaultCollection
	}

	apiKey, _ := ApiKeyFrom(options.Context)

	client := &http.Client{
		Timeout:   15 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	s := &qdrantStorer{
		options:    options,
		collection: collection,
		apiKey:     apiKey,
		client:     client,
	}

	if err := s.configure(options.Context); err != nil {
		return nil, fmt.Errorf("%w: configure qdrant: %w", storer.ErrStore, err)
	}

	return s, nil
}
