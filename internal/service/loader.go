package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"dhs-api/internal/config"
	"dhs-api/internal/state"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Loader reads survey datasets from their source and keeps them in memory.
type Loader struct {
	cfg   *config.Config
	cache *state.DatasetCache
	group singleflight.Group

	mu      sync.Mutex
	sources map[string]DataSource
}

func NewLoader(cfg *config.Config) *Loader {
	return &Loader{
		cfg:     cfg,
		cache:   state.NewDatasetCache(),
		sources: make(map[string]DataSource),
	}
}

// SetSource overrides the data source of a survey.
func (l *Loader) SetSource(surveyID string, ds DataSource) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sources[surveyID] = ds
}

// Source returns the data source of a survey, opening it on first use.
func (l *Loader) Source(ctx context.Context, s *config.Survey) (DataSource, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ds, ok := l.sources[s.ID]; ok {
		return ds, nil
	}
	ds, err := Open(ctx, s.Source)
	if err != nil {
		return nil, fmt.Errorf("opening %s source of %s: %w", s.Source.Type, s.ID, err)
	}
	l.sources[s.ID] = ds
	return ds, nil
}

// Load returns a dataset of a survey, reading it from the source on the
// first request. Concurrent first requests share a single read.
func (l *Loader) Load(ctx context.Context, surveyID, dataset string) (*state.Frame, error) {
	s, ok := l.cfg.Survey(surveyID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSurvey, surveyID)
	}
	if _, ok := l.cfg.Dataset(dataset); !ok {
		return nil, fmt.Errorf("%w: %s. Available: %s", ErrUnknownDataset, dataset, strings.Join(l.cfg.DatasetNames(), ", "))
	}

	key := state.CacheKey(s.ID, dataset)
	if f, ok := l.cache.Get(key); ok {
		return f, nil
	}

	v, err, _ := l.group.Do(key, func() (interface{}, error) {
		if f, ok := l.cache.Get(key); ok {
			return f, nil
		}
		// the read is shared by every waiting caller
		ctx := context.WithoutCancel(ctx)
		ds, err := l.Source(ctx, s)
		if err != nil {
			return nil, err
		}

		table := s.Table(dataset)
		log.Printf("Loading %s dataset of %s from %s", dataset, s.ID, table)
		f, err := ds.Load(ctx, table)
		if err != nil {
			return nil, err
		}
		log.Printf("Loaded %s/%s: %d rows, %d columns", s.ID, dataset, f.Len(), len(f.Headers))

		l.cache.Put(key, f)
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*state.Frame), nil
}

// Warm loads every dataset of a survey concurrently. Datasets missing from
// the source are skipped.
func (l *Loader) Warm(ctx context.Context, surveyID string) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range l.cfg.DatasetNames() {
		name := name
		g.Go(func() error {
			_, err := l.Load(ctx, surveyID, name)
			if errors.Is(err, ErrDatasetNotFound) {
				log.Printf("Skipping %s/%s: %v", surveyID, name, err)
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// ClearCache drops every loaded dataset and returns how many were dropped.
func (l *Loader) ClearCache() int {
	n := l.cache.Clear()
	log.Printf("Cleared %d cached datasets", n)
	return n
}

func (l *Loader) CacheInfo() state.CacheInfo {
	return l.cache.Info()
}

// Close closes every opened data source.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for id, ds := range l.sources {
		if err := ds.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing source of %s: %w", id, err))
		}
	}
	l.sources = make(map[string]DataSource)
	return errors.Join(errs...)
}
