package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/DocFinder/internal/models"
)

type countingLookup struct {
	repo  PatientLookup
	calls int
	err   error
}

func (c *countingLookup) GetPatient(ctx context.Context, id string) (*models.Patient, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.repo.GetPatient(ctx, id)
}

func TestLocationResolver_CachesFoundPatients(t *testing.T) {
	mem := NewInMemoryStore()
	mem.SavePatient(context.Background(), samplePatient())
	lookup := &countingLookup{repo: mem}
	r := NewLocationResolver(lookup, NewInMemoryKV(), time.Hour)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		loc, err := r.Resolve(ctx, "42")
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if !loc.Known() || models.Deref(loc.City) != "Zurich" {
			t.Fatalf("unexpected location %+v", loc)
		}
	}
	if lookup.calls != 1 {
		t.Errorf("expected one repository call, got %d", lookup.calls)
	}
}

func TestLocationResolver_UnknownPatient(t *testing.T) {
	lookup := &countingLookup{repo: NewInMemoryStore()}
	r := NewLocationResolver(lookup, NewInMemoryKV(), time.Hour)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		loc, err := r.Resolve(ctx, "404")
		if err != nil || loc != nil {
			t.Fatalf("expected nil location, got %+v %v", loc, err)
		}
	}
	if lookup.calls != 2 {
		t.Errorf("unknown patients must not be cached, got %d calls", lookup.calls)
	}
}

func TestLocationResolver_PropagatesErrors(t *testing.T) {
	boom := errors.New("db down")
	r := NewLocationResolver(&countingLookup{err: boom}, nil, time.Hour)
	if _, err := r.Resolve(context.Background(), "42"); !errors.Is(err, boom) {
		t.Errorf("expected db error, got %v", err)
	}
}
