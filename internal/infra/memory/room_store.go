package memory

import (
	"context"
	"sync"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

// RoomStore is an in-memory implementation of app.RoomStore. It mirrors the
// Redis layout (encoded field per path plus a score counter map) so both
// stores decode through the same document codec, and it pushes a fresh
// snapshot to every subscriber on each change.
type RoomStore struct {
	mu    sync.RWMutex
	rooms map[string]*roomRecord
}

type roomRecord struct {
	fields      map[string]string
	scores      map[string]int
	subscribers map[chan domain.RoomDocument]struct{}
}

func NewRoomStore() *RoomStore {
	return &RoomStore{rooms: make(map[string]*roomRecord)}
}

func (s *RoomStore) CreateRoom(_ context.Context, doc domain.RoomDocument) error {
	questions, err := app.EncodeField(doc.Questions)
	if err != nil {
		return err
	}
	state, err := app.EncodeField(doc.State)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rooms[doc.Code]; exists {
		return domain.ErrRoomCodeTaken
	}
	s.rooms[doc.Code] = &roomRecord{
		fields: map[string]string{
			app.FieldQuestions: questions,
			app.FieldState:     state,
		},
		scores:      make(map[string]int),
		subscribers: make(map[chan domain.RoomDocument]struct{}),
	}
	return nil
}

func (s *RoomStore) Read(_ context.Context, code string) (domain.RoomDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[code]
	if !ok {
		return domain.RoomDocument{}, domain.ErrRoomNotFound
	}
	return s.decodeLocked(code, room)
}

func (s *RoomStore) WriteField(_ context.Context, code, field string, value any) error {
	raw, err := app.EncodeField(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[code]
	if !ok {
		return domain.ErrRoomNotFound
	}
	room.fields[field] = raw
	s.broadcastLocked(code, room)
	return nil
}

func (s *RoomStore) WriteFieldOnce(_ context.Context, code, field string, value any) (bool, error) {
	raw, err := app.EncodeField(value)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[code]
	if !ok {
		return false, domain.ErrRoomNotFound
	}
	if _, taken := room.fields[field]; taken {
		return false, nil
	}
	room.fields[field] = raw
	s.broadcastLocked(code, room)
	return true, nil
}

func (s *RoomStore) AtomicIncrement(_ context.Context, code, participantID string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[code]
	if !ok {
		return 0, domain.ErrRoomNotFound
	}
	room.scores[participantID] += delta
	total := room.scores[participantID]
	s.broadcastLocked(code, room)
	return total, nil
}

func (s *RoomStore) Subscribe(_ context.Context, code string) (<-chan domain.RoomDocument, func(), error) {
	s.mu.Lock()
	room, ok := s.rooms[code]
	if !ok {
		s.mu.Unlock()
		return nil, nil, domain.ErrRoomNotFound
	}
	ch := make(chan domain.RoomDocument, 8)
	room.subscribers[ch] = struct{}{}
	initial, err := s.decodeLocked(code, room)
	s.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}

	ch <- initial

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, still := room.subscribers[ch]; still {
			delete(room.subscribers, ch)
			close(ch)
		}
	}
	return ch, cancel, nil
}

func (s *RoomStore) decodeLocked(code string, room *roomRecord) (domain.RoomDocument, error) {
	fields := make(map[string]string, len(room.fields))
	for k, v := range room.fields {
		fields[k] = v
	}
	scores := make(map[string]int, len(room.scores))
	for k, v := range room.scores {
		scores[k] = v
	}
	return app.DecodeRoomDocument(code, fields, scores)
}

func (s *RoomStore) broadcastLocked(code string, room *roomRecord) {
	doc, err := s.decodeLocked(code, room)
	if err != nil {
		return
	}
	for ch := range room.subscribers {
		select {
		case ch <- doc:
		default:
			// Drop the stale snapshot so a slow watcher never blocks writers.
			select {
			case <-ch:
			default:
			}
			ch <- doc
		}
	}
}
