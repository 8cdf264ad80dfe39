package app

import (
	"context"
	"errors"
	"sync"

	"quizroom-service/internal/domain"
)

// fakeStore is a minimal in-package RoomStore for white-box tests. It shares
// the field/codec layout of the real stores and can inject write failures to
// exercise the transition retry path.
type fakeStore struct {
	mu         sync.Mutex
	fields     map[string]map[string]string
	scores     map[string]map[string]int
	subs       map[string][]chan domain.RoomDocument
	failWrites int
}

var errStoreDown = errors.New("store unavailable")

func newFakeStore() *fakeStore {
	return &fakeStore{
		fields: make(map[string]map[string]string),
		scores: make(map[string]map[string]int),
		subs:   make(map[string][]chan domain.RoomDocument),
	}
}

func (s *fakeStore) failNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = n
}

func (s *fakeStore) takeFailureLocked() bool {
	if s.failWrites > 0 {
		s.failWrites--
		return true
	}
	return false
}

func (s *fakeStore) CreateRoom(_ context.Context, doc domain.RoomDocument) error {
	questions, err := EncodeField(doc.Questions)
	if err != nil {
		return err
	}
	state, err := EncodeField(doc.State)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.fields[doc.Code]; exists {
		return domain.ErrRoomCodeTaken
	}
	s.fields[doc.Code] = map[string]string{
		FieldQuestions: questions,
		FieldState:     state,
	}
	s.scores[doc.Code] = make(map[string]int)
	return nil
}

func (s *fakeStore) Read(_ context.Context, code string) (domain.RoomDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decodeLocked(code)
}

func (s *fakeStore) WriteField(_ context.Context, code, field string, value any) error {
	raw, err := EncodeField(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.takeFailureLocked() {
		return errStoreDown
	}
	fields, ok := s.fields[code]
	if !ok {
		return domain.ErrRoomNotFound
	}
	fields[field] = raw
	s.broadcastLocked(code)
	return nil
}

func (s *fakeStore) WriteFieldOnce(_ context.Context, code, field string, value any) (bool, error) {
	raw, err := EncodeField(value)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.takeFailureLocked() {
		return false, errStoreDown
	}
	fields, ok := s.fields[code]
	if !ok {
		return false, domain.ErrRoomNotFound
	}
	if _, taken := fields[field]; taken {
		return false, nil
	}
	fields[field] = raw
	s.broadcastLocked(code)
	return true, nil
}

func (s *fakeStore) AtomicIncrement(_ context.Context, code, participantID string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.takeFailureLocked() {
		return 0, errStoreDown
	}
	scores, ok := s.scores[code]
	if !ok {
		return 0, domain.ErrRoomNotFound
	}
	scores[participantID] += delta
	s.broadcastLocked(code)
	return scores[participantID], nil
}

func (s *fakeStore) Subscribe(_ context.Context, code string) (<-chan domain.RoomDocument, func(), error) {
	s.mu.Lock()
	initial, err := s.decodeLocked(code)
	if err != nil {
		s.mu.Unlock()
		return nil, nil, err
	}
	ch := make(chan domain.RoomDocument, 32)
	s.subs[code] = append(s.subs[code], ch)
	s.mu.Unlock()

	ch <- initial
	cancel := func() {}
	return ch, cancel, nil
}

func (s *fakeStore) decodeLocked(code string) (domain.RoomDocument, error) {
	fields, ok := s.fields[code]
	if !ok {
		return domain.RoomDocument{}, domain.ErrRoomNotFound
	}
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	scores := make(map[string]int, len(s.scores[code]))
	for k, v := range s.scores[code] {
		scores[k] = v
	}
	return DecodeRoomDocument(code, copied, scores)
}

func (s *fakeStore) broadcastLocked(code string) {
	doc, err := s.decodeLocked(code)
	if err != nil {
		return
	}
	for _, ch := range s.subs[code] {
		select {
		case ch <- doc:
		default:
		}
	}
}
