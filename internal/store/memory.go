package store

import (
	"context"
	"sync"
	"time"

	"github.com/BTreeMap/DocFinder/internal/models"
)

// InMemoryStore is a patient repository and dedup log kept in process memory.
// It is used when no database is configured and in tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	patients map[string]models.Patient
	inbound  map[string]DedupRecord
}

var (
	_ PatientRepo = (*InMemoryStore)(nil)
	_ DedupRepo   = (*InMemoryStore)(nil)
)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		patients: make(map[string]models.Patient),
		inbound:  make(map[string]DedupRecord),
	}
}

func (s *InMemoryStore) GetPatient(ctx context.Context, id string) (*models.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (s *InMemoryStore) FindPatientByPhone(ctx context.Context, phone string) (*models.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.patients {
		if p.Phone == phone {
			found := p
			return &found, nil
		}
	}
	return nil, ErrPatientNotFound
}

func (s *InMemoryStore) SavePatient(ctx context.Context, p models.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[p.ID] = p
	return nil
}

func (s *InMemoryStore) RecordInbound(ctx context.Context, messageID, patientID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.inbound[messageID]; seen {
		return false, nil
	}
	s.inbound[messageID] = DedupRecord{MessageID: messageID, PatientID: patientID, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.inbound[messageID]; ok {
		now := time.Now()
		rec.ProcessedAt = &now
		s.inbound[messageID] = rec
	}
	return nil
}

func (s *InMemoryStore) PruneInbound(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.inbound {
		if rec.ReceivedAt.Before(cutoff) {
			delete(s.inbound, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) Close() error { return nil }
