// Package chromem is an embedded Storer. Similarity search is delegated to
// chromem-go, one collection per user. With a location the collections are
// persisted to that directory and reloaded on start.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"github.com/w-h-a/memories/storer"
)

const collectionPrefix = "memories-"

type chromemStorer struct {
	options storer.Options
	db      *chromem.DB
	records map[string]storer.Record
	mtx     sync.RWMutex
}

func (s *chromemStorer) Insert(ctx context.Context, rec storer.Record) (string, error) {
	if len(rec.Embedding) != s.options.Dimensions {
		return "", fmt.Errorf("%w: embedding has %d dimensions, want %d", storer.ErrConstraintViolation, len(rec.Embedding), s.options.Dimensions)
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if _, exists := s.records[rec.Id]; exists {
		return "", fmt.Errorf("%w: memory %s already exists", storer.ErrConstraintViolation, rec.Id)
	}

	content, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("%w: encode record: %w", storer.ErrStore, err)
	}

	col, err := s.db.GetOrCreateCollection(collectionPrefix+rec.UserId, nil, nil)
	if err != nil {
		return "", fmt.Errorf("%w: create collection: %w", storer.ErrStore, err)
	}

	cpy := make([]float32, len(rec.Embedding))
	copy(cpy, rec.Embedding)

	doc := chromem.Document{
		ID:        rec.Id,
		Content:   string(content),
		Embedding: cpy,
		Metadata: map[string]string{
			"user_id":    rec.UserId,
			"created_at": rec.CreatedAt.Format(time.RFC3339Nano),
		},
	}

	if err := col.AddDocument(ctx, doc); err != nil {
		return "", fmt.Errorf("%w: add document: %w", storer.ErrStore, err)
	}

	rec.Embedding = cpy
	s.records[rec.Id] = rec

	return rec.Id, nil
}

func (s *chromemStorer) ListByUser(ctx context.Context, userId string, opts ...storer.ListOption) ([]storer.Record, error) {
	options := storer.NewListOptions(opts...)

	if options.Limit < 1 {
		return []storer.Record{}, nil
	}

	s.mtx.RLock()
	defer s.mtx.RUnlock()

	candidates := []storer.Record{}

	for _, rec := range s.records {
		if rec.UserId != userId || !storer.Matches(rec, options) {
			continue
		}
		candidates = append(candidates, rec)
	}

	storer.SortByRecency(candidates)

	return storer.Truncate(candidates, options.Limit), nil
}

func (s *chromemStorer) NearestByEmbedding(ctx context.Context, userId string, vector []float32, limit int) ([]storer.Record, error) {
	if limit < 1 {
		return []storer.Record{}, nil
	}

	s.mtx.RLock()
	defer s.mtx.RUnlock()

	col := s.db.GetCollection(collectionPrefix+userId, nil)
	if col == nil || col.Count() == 0 {
		return []storer.Record{}, nil
	}

	// chromem rejects nResults larger than the collection
	n := min(limit, col.Count())

	results, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: query embedding: %w", storer.ErrStore, err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ID < results[j].ID
	})

	records := make([]storer.Record, 0, len(results))
	for _, result := range results {
		rec, ok := s.records[result.ID]
		if !ok {
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

func (s *chromemStorer) Close() error {
	return nil
}

// load rebuilds the record index from collections restored from disk.
func (s *chromemStorer) load(ctx context.Context) error {
	anchor := make([]float32, s.options.Dimensions)
	if len(anchor) > 0 {
		anchor[0] = 1
	}

	for name, col := range s.db.ListCollections() {
		if col.Count() == 0 {
			continue
		}

		results, err := col.QueryEmbedding(ctx, anchor, col.Count(), nil, nil)
		if err != nil {
			return fmt.Errorf("%w: load collection %s: %w", storer.ErrStore, name, err)
		}

		for _, result := range results {
			var rec storer.Record
			if err := json.Unmarshal([]byte(result.Content), &rec); err != nil {
				return fmt.Errorf("%w: decode record %s: %w", storer.ErrStore, result.ID, err)
			}
			rec.Embedding = result.Embedding
			s.records[rec.Id] = rec
		}
	}

	return nil
}

func NewStorer(opts ...storer.Option) (storer.Storer, error) {
	options := storer.NewOptions(opts...)

	s := &chromemStorer{
		options: options,
		records: map[string]storer.Record{},
		mtx:     sync.RWMutex{},
	}

	if len(options.Location) == 0 {
		s.db = chromem.NewDB()
		return s, nil
	}

	db, err := chromem.NewPersistentDB(options.Location, false)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", storer.ErrStore, options.Location, err)
	}

	s.db = db

	if err := s.load(options.Context); err != nil {
		return nil, err
	}

	return s, nil
}
