package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/storescout/storescout/internal/scrape"
)

// ResultStore keeps result records in a map. Safe for concurrent use.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string]scrape.ResultRecord
}

// NewResultStore constructs a ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[string]scrape.ResultRecord)}
}

// SaveResult stores an individual result record.
func (s *ResultStore) SaveResult(_ context.Context, record scrape.ResultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[record.ID] = record
	return nil
}

// UpsertMasterResult creates or updates the singleton master record.
func (s *ResultStore) UpsertMasterResult(_ context.Context, record scrape.ResultRecord) error {
	record.ID = scrape.MasterResultID
	record.Kind = scrape.ResultKindMaster
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[record.ID] = record
	return nil
}

// GetMasterResult returns the master record if any job has completed.
func (s *ResultStore) GetMasterResult(_ context.Context) (scrape.ResultRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.results[scrape.MasterResultID]
	if !ok {
		return scrape.ResultRecord{}, fmt.Errorf("%w: master", scrape.ErrResultNotFound)
	}
	return record, nil
}

// DatasetStats summarizes the stored records.
func (s *ResultStore) DatasetStats(_ context.Context) (scrape.DatasetStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := scrape.DatasetStats{}
	for _, record := range s.results {
		if record.Kind == scrape.ResultKindMaster {
			stats.MasterRows = record.Rows
			stats.MasterSizeBytes = record.SizeBytes
			continue
		}
		stats.Results++
	}
	return stats, nil
}
