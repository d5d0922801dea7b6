package storer

import (
	"sort"
)

// Matches reports whether rec passes the filters in opts. Limit is not applied.
func Matches(rec Record, opts ListOptions) bool {
	if opts.ExcludeDeleted && rec.Deleted {
		return false
	}
	if opts.HasRange() {
		if rec.CreatedAt.Before(opts.Start) || rec.CreatedAt.After(opts.End) {
			return false
		}
	}
	return true
}

// SortByRecency orders records newest first, breaking created_at ties by id.
func SortByRecency(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].Id < records[j].Id
	})
}

// Truncate returns at most limit records. A limit below one yields an empty slice.
func Truncate(records []Record, limit int) []Record {
	if limit < 1 {
		return []Record{}
	}
	if len(records) > limit {
		return records[:limit]
	}
	return records
}
