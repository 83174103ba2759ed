package stage

import (
	"sync"

	"github.com/ulala-x/playhouse-go/pkg/errors"
)

// Directory is the per-process map stageId -> Stage of spec §4.6. GetOrCreate
// is atomic: exactly one creator wins. The only shared mutable state between
// Stages in the whole core lives here (spec §5 "Shared-resource policy").
type Directory struct {
	mu     sync.RWMutex
	stages map[int64]*Stage

	requireType map[int64]string // first-seen stageType per stageId, spec §9 open question
}

// NewDirectory builds an empty Directory.
func NewDirectory() *Directory {
	return &Directory{
		stages:      make(map[int64]*Stage),
		requireType: make(map[int64]string),
	}
}

// Get returns the Stage for id, if any.
func (d *Directory) Get(id int64) (*Stage, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.stages[id]
	return s, ok
}

// GetOrCreate returns the existing Stage for id, or atomically publishes a
// freshly built one via factory. The directory publishes the Stage before
// OnCreate has run; callers must wait on the returned `created` bool (from a
// CreateStage/GetOrCreateStage system command) before assuming created=true.
func (d *Directory) GetOrCreate(id int64, stageType string, factory func() *Stage) (s *Stage, isNew bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.stages[id]; ok {
		if wantType, seen := d.requireType[id]; seen && stageType != "" && wantType != stageType {
			return existing, false, errors.ErrInternal.WithMetadata(map[string]string{"reason": "stageType mismatch on existing stageId"})
		}
		return existing, false, nil
	}
	if stageType == "" {
		return nil, false, errors.ErrInternal.WithMetadata(map[string]string{"reason": "stageType required on first creation of a stage"})
	}

	s = factory()
	d.stages[id] = s
	d.requireType[id] = stageType
	return s, true, nil
}

// remove deletes id from the directory; called after DestroyStage finishes
// draining (spec §4.6 "Removal").
func (d *Directory) remove(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.stages, id)
}

// Len returns the number of live stages, for tests/metrics/admin.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.stages)
}
