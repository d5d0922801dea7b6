package qdrant

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/w-h-a/memories/storer"
)

type condition struct {
	Key   string `json:"key"`
	Match *struct {
		Value any `json:"value"`
	} `json:"match"`
	Range *struct {
		Gte float64 `json:"gte"`
		Lte float64 `json:"lte"`
	} `json:"range"`
}

type filter struct {
	Must    []condition `json:"must"`
	MustNot []condition `json:"must_not"`
}

func (c condition) matches(p qdrantPayload) bool {
	switch c.Key {
	case "user_id":
		return c.Match != nil && c.Match.Value == p.UserId
	case "deleted":
		return c.Match != nil && c.Match.Value == p.Deleted
	case "created_at_unix":
		return c.Range != nil && p.CreatedAtUnix >= c.Range.Gte && p.CreatedAtUnix <= c.Range.Lte
	}
	return false
}

func (f filter) matches(p qdrantPayload) bool {
	for _, c := range f.Must {
		if !c.matches(p) {
			return false
		}
	}
	for _, c := range f.MustNot {
		if c.matches(p) {
			return false
		}
	}
	return true
}

// fakeQdrant serves the subset of the qdrant REST API the storer uses.
type fakeQdrant struct {
	mtx     sync.Mutex
	created bool
	indexes []string
	points  map[string]qdrantPoint
	apiKeys []string
	scrolls int
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	f.apiKeys = append(f.apiKeys, r.Header.Get("api-key"))

	ok := func(result any) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "result": result})
	}

	switch r.Method + " " + r.URL.Path {
	case "GET /collections/memories":
		if !f.created {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"status":{"error":"Not found: Collection memories doesn't exist!"}}`))
			return
		}
		ok(map[string]any{})

	case "PUT /collections/memories":
		f.created = true
		ok(true)

	case "PUT /collections/memories/index":
		var req struct {
			FieldName string `json:"field_name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.indexes = append(f.indexes, req.FieldName)
		ok(map[string]any{"status": "completed"})

	case "POST /collections/memories/points":
		var req struct {
			Ids []string `json:"ids"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		found := []qdrantPoint{}
		for _, id := range req.Ids {
			if p, exists := f.points[id]; exists {
				found = append(found, p)
			}
		}
		ok(found)

	case "PUT /collections/memories/points":
		var req struct {
			Points []qdrantPoint `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, p := range req.Points {
			f.points[p.Id] = p
		}
		ok(map[string]any{"status": "completed"})

	case "POST /collections/memories/points/scroll":
		var req struct {
			Filter filter `json:"filter"`
			Limit  int    `json:"limit"`
			Offset int    `json:"offset"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.scrolls++
		matched := []qdrantPoint{}
		for _, p := range f.points {
			if req.Filter.matches(p.Payload) {
				matched = append(matched, p)
			}
		}
		// ties come back in reverse id order, as qdrant gives no tie guarantee
		sort.Slice(matched, func(i, j int) bool {
			if matched[i].Payload.CreatedAtUnix != matched[j].Payload.CreatedAtUnix {
				return matched[i].Payload.CreatedAtUnix > matched[j].Payload.CreatedAtUnix
			}
			return matched[i].Payload.Record.Id > matched[j].Payload.Record.Id
		})
		if req.Offset > len(matched) {
			req.Offset = len(matched)
		}
		matched = matched[req.Offset:]
		var next any
		if len(matched) > req.Limit {
			matched = matched[:req.Limit]
			next = req.Offset + req.Limit
		}
		ok(map[string]any{"points": matched, "next_page_offset": next})

	case "POST /collections/memories/points/search":
		var req struct {
			Vector []float32 `json:"vector"`
			Filter filter    `json:"filter"`
			Limit  int       `json:"limit"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		results := []qdrantPointResult{}
		for _, p := range f.points {
			if req.Filter.matches(p.Payload) {
				results = append(results, qdrantPointResult{Id: p.Id, Score: cosine(req.Vector, p.Vector), Payload: p.Payload, Vector: p.Vector})
			}
		}
		sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
		if len(results) > req.Limit {
			results = results[:req.Limit]
		}
		ok(results)

	default:
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":{"error":"unexpected request"}}`))
	}
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func newTestStorer(t *testing.T) (storer.Storer, *fakeQdrant) {
	t.Helper()

	fake := &fakeQdrant{points: map[string]qdrantPoint{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := NewStorer(
		storer.WithLocation(srv.URL+"/"),
		storer.WithDimensions(3),
		WithApiKey("k"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s, fake
}

func record(id, userId string, created time.Time, vector []float32) storer.Record {
	return storer.Record{
		Id:         id,
		UserId:     userId,
		CreatedAt:  created,
		Structured: storer.Structured{Title: "title " + id},
		Visibility: storer.DefaultVisibility,
		Embedding:  vector,
	}
}

func TestNewStorerConfiguresCollection(t *testing.T) {
	_, fake := newTestStorer(t)

	assert.True(t, fake.created)
	assert.ElementsMatch(t, []string{"user_id", "created_at_unix", "deleted"}, fake.indexes)
	for _, key := range fake.apiKeys {
		assert.Equal(t, "k", key)
	}
}

func TestNewStorerRequiresLocation(t *testing.T) {
	_, err := NewStorer()
	assert.True(t, errors.Is(err, storer.ErrStore))
}

func TestInsertAndList(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorer(t)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		rec := record(id, "u1", base.Add(time.Duration(i)*time.Hour), []float32{1, 0, 0})
		rec.Deleted = id == "b"
		got, err := s.Insert(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}
	_, err := s.Insert(ctx, record("z", "u2", base.Add(10*time.Hour), []float32{1, 0, 0}))
	require.NoError(t, err)

	latest, err := s.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "c", latest[0].Id)
	assert.Equal(t, "title c", latest[0].Structured.Title)
	assert.True(t, base.Add(2*time.Hour).Equal(latest[0].CreatedAt))

	all, err := s.ListByUser(ctx, "u1", storer.WithLimit(10))
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[2].Id)

	live, err := s.ListByUser(ctx, "u1", storer.WithLimit(10), storer.WithExcludeDeleted())
	require.NoError(t, err)
	assert.Len(t, live, 2)

	ranged, err := s.ListByUser(ctx, "u1", storer.WithLimit(10), storer.WithCreatedBetween(base, base.Add(time.Hour)))
	require.NoError(t, err)
	require.Len(t, ranged, 2)
	assert.Equal(t, "b", ranged[0].Id)

	none, err := s.ListByUser(ctx, "u1", storer.WithLimit(0))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListByUserBreaksTiesById(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStorer(t)

	pageSize := scrollPageSize
	scrollPageSize = 1
	t.Cleanup(func() { scrollPageSize = pageSize })

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, id := range []string{"c", "a", "b"} {
		_, err := s.Insert(ctx, record(id, "u1", base, []float32{1, 0, 0}))
		require.NoError(t, err)
	}
	_, err := s.Insert(ctx, record("z", "u1", base.Add(time.Hour), []float32{1, 0, 0}))
	require.NoError(t, err)
	_, err = s.Insert(ctx, record("d", "u2", base, []float32{1, 0, 0}))
	require.NoError(t, err)

	two, err := s.ListByUser(ctx, "u1", storer.WithLimit(2))
	require.NoError(t, err)
	require.Len(t, two, 2)
	assert.Equal(t, "z", two[0].Id)
	assert.Equal(t, "a", two[1].Id)

	fake.mtx.Lock()
	fake.scrolls = 0
	fake.mtx.Unlock()

	three, err := s.ListByUser(ctx, "u1", storer.WithLimit(3))
	require.NoError(t, err)
	require.Len(t, three, 3)
	assert.Equal(t, []string{"z", "a", "b"}, []string{three[0].Id, three[1].Id, three[2].Id})

	fake.mtx.Lock()
	defer fake.mtx.Unlock()
	// one ordered scroll, then one page per tied record
	assert.Equal(t, 4, fake.scrolls)
}

func TestInsertDuplicateAndDimensions(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorer(t)

	_, err := s.Insert(ctx, record("a", "u1", time.Now(), []float32{1, 0, 0}))
	require.NoError(t, err)

	_, err = s.Insert(ctx, record("a", "u2", time.Now(), []float32{0, 1, 0}))
	assert.True(t, errors.Is(err, storer.ErrConstraintViolation))

	_, err = s.Insert(ctx, record("b", "u1", time.Now(), []float32{1, 0}))
	assert.True(t, errors.Is(err, storer.ErrConstraintViolation))
}

func TestNearestByEmbedding(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorer(t)

	now := time.Now().UTC()
	for id, vector := range map[string][]float32{
		"near": {0.9, 0.1, 0},
		"mid":  {0.5, 0.5, 0},
		"far":  {0, 0, 1},
	} {
		_, err := s.Insert(ctx, record(id, "u1", now, vector))
		require.NoError(t, err)
	}
	_, err := s.Insert(ctx, record("foreign", "u2", now, []float32{1, 0, 0}))
	require.NoError(t, err)

	results, err := s.NearestByEmbedding(ctx, "u1", []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "near", results[0].Id)
	assert.Equal(t, "mid", results[1].Id)
	assert.Equal(t, "far", results[2].Id)

	empty, err := s.NearestByEmbedding(ctx, "nobody", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestStoreErrorsWrapped(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorer(t)

	q := s.(*qdrantStorer)
	q.collection = "missing"

	_, err := s.ListByUser(ctx, "u1")
	assert.True(t, errors.Is(err, storer.ErrStore))

	_, err = s.NearestByEmbedding(ctx, "u1", []float32{1, 0, 0}, 1)
	assert.True(t, errors.Is(err, storer.ErrStore))
}

func TestPointIdIsStable(t *testing.T) {
	assert.Equal(t, pointId("m1"), pointId("m1"))
	assert.NotEqual(t, pointId("m1"), pointId("m2"))
}
