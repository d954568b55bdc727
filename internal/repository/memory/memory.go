// Package memory holds map-backed repository implementations with the same
// semantics as the postgres ones, including versioned record writes. Used by
// tests and single-process tooling.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hqmotech/forwarder/internal/model"
	"github.com/hqmotech/forwarder/internal/repository"
)

type RepeatRecordRepository struct {
	mu       sync.Mutex
	records  map[uuid.UUID]model.RepeatRecord
	attempts map[uuid.UUID][]model.RepeatRecordAttempt
}

func NewRepeatRecordRepository() *RepeatRecordRepository {
	return &RepeatRecordRepository{
		records:  make(map[uuid.UUID]model.RepeatRecord),
		attempts: make(map[uuid.UUID][]model.RepeatRecordAttempt),
	}
}

func (r *RepeatRecordRepository) Create(ctx context.Context, record *model.RepeatRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.ID] = *record
	return nil
}

func (r *RepeatRecordRepository) Get(ctx context.Context, id uuid.UUID) (*model.RepeatRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &record, nil
}

// Update mirrors the postgres optimistic write: the stored version must match
// the loaded one, and both stored and in-memory versions advance on success.
func (r *RepeatRecordRepository) Update(ctx context.Context, record *model.RepeatRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.records[record.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.Version != record.Version {
		return repository.ErrConflict
	}
	record.Version++
	r.records[record.ID] = *record
	return nil
}

func (r *RepeatRecordRepository) DueBatch(ctx context.Context, cutoff time.Time, limit int) ([]*model.RepeatRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*model.RepeatRecord
	for _, record := range r.records {
		if record.Due(cutoff) {
			rec := record
			due = append(due, &rec)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextCheckAt.Before(*due[j].NextCheckAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *RepeatRecordRepository) AddAttempt(ctx context.Context, attempt *model.RepeatRecordAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[attempt.RecordID] = append(r.attempts[attempt.RecordID], *attempt)
	return nil
}

func (r *RepeatRecordRepository) ListAttempts(ctx context.Context, recordID uuid.UUID) ([]model.RepeatRecordAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.RepeatRecordAttempt(nil), r.attempts[recordID]...), nil
}

func (r *RepeatRecordRepository) ListByRepeater(ctx context.Context, repeaterID uuid.UUID, state model.RecordState, limit, offset int) ([]*model.RepeatRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.RepeatRecord
	for _, record := range r.records {
		if record.RepeaterID != repeaterID {
			continue
		}
		if state != "" && record.State != state {
			continue
		}
		rec := record
		out = append(out, &rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *RepeatRecordRepository) CountsByRepeater(ctx context.Context, repeaterID uuid.UUID) (*repository.StateCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := &repository.StateCounts{}
	for _, record := range r.records {
		if record.RepeaterID != repeaterID {
			continue
		}
		switch record.State {
		case model.RecordStatePending:
			counts.Pending++
			if record.OverallTries > 0 {
				counts.Failing++
			}
		case model.RecordStateSuccess:
			counts.Success++
		case model.RecordStateCancelled:
			counts.Cancelled++
		}
	}
	return counts, nil
}

func (r *RepeatRecordRepository) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for id, record := range r.records {
		if record.Terminal() && record.UpdatedAt.Before(before) {
			delete(r.records, id)
			delete(r.attempts, id)
			deleted++
		}
	}
	return deleted, nil
}

type RepeaterRepository struct {
	mu        sync.Mutex
	repeaters map[uuid.UUID]model.Repeater
}

func NewRepeaterRepository() *RepeaterRepository {
	return &RepeaterRepository{repeaters: make(map[uuid.UUID]model.Repeater)}
}

func (r *RepeaterRepository) Create(ctx context.Context, repeater *model.Repeater) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repeaters[repeater.ID] = *repeater
	return nil
}

func (r *RepeaterRepository) Get(ctx context.Context, id uuid.UUID) (*model.Repeater, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	repeater, ok := r.repeaters[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &repeater, nil
}

func (r *RepeaterRepository) Update(ctx context.Context, repeater *model.Repeater) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.repeaters[repeater.ID]; !ok {
		return repository.ErrNotFound
	}
	r.repeaters[repeater.ID] = *repeater
	return nil
}

func (r *RepeaterRepository) ListActive(ctx context.Context, domain string, kind model.RepeaterKind) ([]*model.Repeater, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Repeater
	for _, repeater := range r.repeaters {
		if repeater.Domain == domain && repeater.Kind == kind && repeater.Active() {
			rep := repeater
			out = append(out, &rep)
		}
	}
	return out, nil
}

func (r *RepeaterRepository) ListByDomain(ctx context.Context, domain string) ([]*model.Repeater, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Repeater
	for _, repeater := range r.repeaters {
		if repeater.Domain == domain && !repeater.Deleted() {
			rep := repeater
			out = append(out, &rep)
		}
	}
	return out, nil
}

func (r *RepeaterRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	repeater, ok := r.repeaters[id]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now().UTC()
	repeater.DeletedAt = &now
	r.repeaters[id] = repeater
	return nil
}

type ConnectionSettingsRepository struct {
	mu          sync.Mutex
	connections map[uuid.UUID]model.ConnectionSettings
}

func NewConnectionSettingsRepository() *ConnectionSettingsRepository {
	return &ConnectionSettingsRepository{connections: make(map[uuid.UUID]model.ConnectionSettings)}
}

func (r *ConnectionSettingsRepository) Create(ctx context.Context, conn *model.ConnectionSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[conn.ID] = *conn
	return nil
}

func (r *ConnectionSettingsRepository) Get(ctx context.Context, id uuid.UUID) (*model.ConnectionSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.connections[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &conn, nil
}

func (r *ConnectionSettingsRepository) ListByDomain(ctx context.Context, domain string) ([]*model.ConnectionSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.ConnectionSettings
	for _, conn := range r.connections {
		if conn.Domain == domain {
			c := conn
			out = append(out, &c)
		}
	}
	return out, nil
}

type EntityRepository struct {
	mu       sync.Mutex
	entities map[string]model.Entity
}

func NewEntityRepository() *EntityRepository {
	return &EntityRepository{entities: make(map[string]model.Entity)}
}

func (r *EntityRepository) Put(entity *model.Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities[entity.Domain+"/"+entity.ID] = *entity
}

func (r *EntityRepository) Get(ctx context.Context, domain, id string) (*model.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entity, ok := r.entities[domain+"/"+id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &entity, nil
}
