// Package itemservice coordinates repository, cache, and reducer operations
// behind one API used by the HTTP, MCP, and CLI surfaces.
package itemservice

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/reducer"
	"github.com/starford/othala/internal/repo"
	"github.com/starford/othala/internal/statecache"
)

// ItemDetail is the full representation of an item: identity, DAG summary,
// display metadata derived from the folded file set, and folded state.
type ItemDetail struct {
	Name            string          `json:"name"`
	Title           string          `json:"title"`
	Tags            []string        `json:"tags"`
	Refs            []string        `json:"refs"`
	Heads           []string        `json:"heads"`
	RecordCount     int             `json:"record_count"`
	GenerationCount int             `json:"generation_count"`
	Remaining       []string        `json:"remaining"`
	State           json.RawMessage `json:"state"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ItemListEntry is a lightweight item in a list response.
type ItemListEntry struct {
	Name            string    `json:"name"`
	Title           string    `json:"title"`
	Tags            []string  `json:"tags"`
	Heads           []string  `json:"heads"`
	RecordCount     int       `json:"record_count"`
	GenerationCount int       `json:"generation_count"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RecordDetail describes one record: its content address, parent links, and
// file listing.
type RecordDetail struct {
	Name    string   `json:"name"`
	Item    string   `json:"item"`
	Parents []string `json:"parents"`
	Files   []string `json:"files"`
}

// CheckReport summarizes an integrity walk over one item.
type CheckReport struct {
	Item      string   `json:"item"`
	Records   int      `json:"records"`
	Corrupt   []string `json:"corrupt"`
	Remaining []string `json:"remaining"`
}

// Service coordinates repository and cache operations.
type Service struct {
	rep *repo.Repository
	db  *statecache.DB
	red reducer.Reducer
}

// NewService creates a new item service.
func NewService(rep *repo.Repository, db *statecache.DB, red reducer.Reducer) *Service {
	return &Service{rep: rep, db: db, red: red}
}

// Repository exposes the underlying repository for surfaces that need raw
// record access.
func (s *Service) Repository() *repo.Repository { return s.rep }

// ListItems returns paginated cached items.
func (s *Service) ListItems(_ context.Context, limit, offset int, sort string) ([]ItemListEntry, int, error) {
	rows, total, err := s.db.ListItems(limit, offset, sort)
	if err != nil {
		return nil, 0, err
	}
	items := make([]ItemListEntry, len(rows))
	for i, r := range rows {
		items[i] = ItemListEntry{
			Name:            r.Name,
			Title:           r.Title,
			Tags:            nonNilSlice(r.Tags),
			Heads:           nonNilSlice(r.Heads),
			RecordCount:     r.RecordCount,
			GenerationCount: r.GenerationCount,
			UpdatedAt:       r.UpdatedAt,
		}
	}
	return items, total, nil
}

// GetItem returns the item's folded detail. The cached row is refreshed
// first; the fingerprint gate makes that cheap when nothing changed.
func (s *Service) GetItem(ctx context.Context, name string) (*ItemDetail, error) {
	if _, err := s.rep.Item(name); err != nil {
		return nil, err
	}
	if _, err := statecache.Refresh(ctx, s.db, s.rep, s.red, name); err != nil {
		return nil, err
	}
	row, err := s.db.GetItem(name)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("itemservice: item %q: %w", name, apperr.ErrNotFound)
	}
	return itemDetail(row), nil
}

// CreateItem allocates a new item. An empty name asks the repository for a
// fresh unique identity.
func (s *Service) CreateItem(ctx context.Context, name string) (*ItemDetail, error) {
	var (
		item *repo.Item
		err  error
	)
	if name == "" {
		item, err = s.rep.NewItem()
	} else {
		item, err = s.rep.NewNamedItem(name)
	}
	if err != nil {
		return nil, err
	}
	return s.GetItem(ctx, item.Name())
}

// NewRecord appends a record to the item and refreshes the cache. When
// linkHeads is set the record declares the item's current heads as parents.
func (s *Service) NewRecord(ctx context.Context, name string, files map[string][]byte, linkHeads bool) (*RecordDetail, error) {
	item, err := s.rep.Item(name)
	if err != nil {
		return nil, err
	}
	rec, err := item.NewRecord(files, linkHeads)
	if err != nil {
		return nil, err
	}
	if _, err := statecache.Refresh(ctx, s.db, s.rep, s.red, name); err != nil {
		return nil, err
	}
	return recordDetail(rec)
}

// GetRecord looks one record up by content address.
func (s *Service) GetRecord(_ context.Context, name, record string) (*RecordDetail, error) {
	item, err := s.rep.Item(name)
	if err != nil {
		return nil, err
	}
	rec, err := item.Record(record)
	if err != nil {
		return nil, err
	}
	return recordDetail(rec)
}

// ReadRecordFile returns the content of one file inside a record.
func (s *Service) ReadRecordFile(_ context.Context, name, record, file string) ([]byte, error) {
	item, err := s.rep.Item(name)
	if err != nil {
		return nil, err
	}
	rec, err := item.Record(record)
	if err != nil {
		return nil, err
	}
	return rec.Read(file)
}

// Generations enumerates the item's record DAG in causal layers and reports
// whatever the walk could not reach.
func (s *Service) Generations(_ context.Context, name string) ([][]RecordDetail, []string, error) {
	item, err := s.rep.Item(name)
	if err != nil {
		return nil, nil, err
	}
	var gens [][]RecordDetail
	it := item.Records()
	for gen := it.Next(); gen != nil; gen = it.Next() {
		views := make([]RecordDetail, 0, len(gen))
		for _, rec := range gen {
			view, err := recordDetail(rec)
			if err != nil {
				return nil, nil, err
			}
			views = append(views, *view)
		}
		gens = append(gens, views)
	}
	return gens, nonNilSlice(it.Remaining()), nil
}

// State folds the item's generations with the service reducer and returns
// the resulting state without touching the cache.
func (s *Service) State(ctx context.Context, name string) (reducer.State, error) {
	item, err := s.rep.Item(name)
	if err != nil {
		return nil, err
	}
	return s.red.Reduce(ctx, item)
}

// RefreshItem re-folds one item into the cache if its layout changed.
func (s *Service) RefreshItem(ctx context.Context, name string) (bool, error) {
	return statecache.Refresh(ctx, s.db, s.rep, s.red, name)
}

// CheckIntegrity verifies every reachable record's content address and
// reports corrupt records plus unreachable entries.
func (s *Service) CheckIntegrity(_ context.Context, name string) (*CheckReport, error) {
	item, err := s.rep.Item(name)
	if err != nil {
		return nil, err
	}

	report := &CheckReport{Item: name, Corrupt: []string{}, Remaining: []string{}}
	// Walk with verification off so corrupt records surface for reporting
	// instead of being silently excluded.
	it := item.WithIntegrityCheck(false).Records()
	for gen := it.Next(); gen != nil; gen = it.Next() {
		for _, rec := range gen {
			report.Records++
			ok, err := rec.Verify()
			if err != nil {
				return nil, err
			}
			if !ok {
				report.Corrupt = append(report.Corrupt, rec.Name())
			}
		}
	}
	report.Remaining = nonNilSlice(it.Remaining())
	return report, nil
}

// Search delegates full-text search over folded state to the cache.
func (s *Service) Search(_ context.Context, query string, limit int) ([]statecache.SearchResult, error) {
	return s.db.Search(query, limit)
}

// RelocateItem moves the item's storage and leaves a redirect at its
// namespace entry, then refreshes the cache row.
func (s *Service) RelocateItem(ctx context.Context, name, dest string) error {
	if err := s.rep.RelocateItem(name, dest); err != nil {
		return err
	}
	_, err := statecache.Refresh(ctx, s.db, s.rep, s.red, name)
	return err
}

// Modules lists the repository's resolved module paths.
func (s *Service) Modules(_ context.Context) ([]string, error) {
	return s.rep.Modules()
}

func itemDetail(row *statecache.ItemRow) *ItemDetail {
	state := row.State
	if state == "" {
		state = "{}"
	}
	return &ItemDetail{
		Name:            row.Name,
		Title:           row.Title,
		Tags:            nonNilSlice(row.Tags),
		Refs:            nonNilSlice(row.Refs),
		Heads:           nonNilSlice(row.Heads),
		RecordCount:     row.RecordCount,
		GenerationCount: row.GenerationCount,
		Remaining:       nonNilSlice(row.Remaining),
		State:           json.RawMessage(state),
		UpdatedAt:       row.UpdatedAt,
	}
}

func recordDetail(rec *repo.Record) (*RecordDetail, error) {
	parents, err := rec.Parents()
	if err != nil {
		return nil, err
	}
	files, err := rec.Files()
	if err != nil {
		return nil, err
	}
	return &RecordDetail{
		Name:    rec.Name(),
		Item:    rec.ItemName(),
		Parents: nonNilSlice(parents),
		Files:   nonNilSlice(files),
	}, nil
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
