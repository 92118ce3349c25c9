package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps requests in process memory. Every operation runs under a
// single mutex, so read-modify-write on one record is atomic.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]Request
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]Request),
		now:   time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Create(_ context.Context, draft Draft) (Request, error) {
	if err := validateDraft(draft); err != nil {
		return Request{}, err
	}
	now := s.now().UTC()
	item := Request{
		ID:            uuid.NewString(),
		GameName:      draft.GameName,
		LatestVersion: draft.LatestVersion,
		Details:       draft.Details,
		IconURL:       draft.IconURL,
		CreatedBy:     creatorOrDefault(draft.CreatedBy),
		Comments:      Ledger{},
		Timestamp:     now,
		LastActivity:  now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
	return cloneRequest(item), nil
}

func (s *MemoryStore) GetAll(context.Context) ([]Request, error) {
	s.mu.Lock()
	items := make([]Request, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, cloneRequest(item))
	}
	s.mu.Unlock()

	sortByActivity(items)
	return items, nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return cloneRequest(item), nil
}

func (s *MemoryStore) UpdateMetadata(_ context.Context, id string, patch Patch) error {
	if err := validatePatch(patch); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	patch.apply(&item)
	at := nextActivity(item.LastActivity, s.now().UTC(), time.Microsecond)
	item.Timestamp = at
	item.LastActivity = at
	s.items[id] = item
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *MemoryStore) AppendComment(_ context.Context, id string, comment Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	item.Comments = item.Comments.Append(comment)
	item.LastActivity = nextActivity(item.LastActivity, s.now().UTC(), time.Microsecond)
	s.items[id] = item
	return nil
}

func (s *MemoryStore) RemoveCommentAt(_ context.Context, id string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	comments, err := item.Comments.RemoveAt(index)
	if err != nil {
		return fmt.Errorf("remove comment: %w", err)
	}
	item.Comments = comments
	item.LastActivity = nextActivity(item.LastActivity, s.now().UTC(), time.Microsecond)
	s.items[id] = item
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func cloneRequest(item Request) Request {
	item.Comments = append(Ledger{}, item.Comments...)
	return item
}

func sortByActivity(items []Request) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].LastActivity.Equal(items[j].LastActivity) {
			return items[i].LastActivity.After(items[j].LastActivity)
		}
		if !items[i].Timestamp.Equal(items[j].Timestamp) {
			return items[i].Timestamp.After(items[j].Timestamp)
		}
		return items[i].ID < items[j].ID
	})
}
