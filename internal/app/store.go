package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"quizroom-service/internal/domain"
)

// RoomStore abstracts the shared-document service a room lives in. The
// document is addressed by field path; watchers are notified on every
// change. Implementations: in-memory (tests, single-node) and Redis.
type RoomStore interface {
	// CreateRoom writes a fresh document, failing with
	// domain.ErrRoomCodeTaken when a live room already holds the code.
	CreateRoom(ctx context.Context, doc domain.RoomDocument) error
	// Read assembles the full document for a code, or domain.ErrRoomNotFound.
	Read(ctx context.Context, code string) (domain.RoomDocument, error)
	// WriteField sets one field with last-writer-wins semantics.
	WriteField(ctx context.Context, code, field string, value any) error
	// WriteFieldOnce sets a field only if it is currently unset and reports
	// whether this call created it. This is the write-once answer primitive.
	WriteFieldOnce(ctx context.Context, code, field string, value any) (bool, error)
	// AtomicIncrement adds delta to a participant's cumulative score counter
	// without a read-modify-write race and returns the new total.
	AtomicIncrement(ctx context.Context, code, participantID string, delta int) (int, error)
	// Subscribe delivers a document snapshot on every change, starting with
	// the current one. The caller must invoke cancel to avoid leaks.
	Subscribe(ctx context.Context, code string) (<-chan domain.RoomDocument, func(), error)
}

// QuestionSource exposes the question bank lookup consumed by the builder.
type QuestionSource interface {
	FetchBySubject(ctx context.Context, subject string) ([]domain.Question, error)
	Subjects(ctx context.Context) ([]string, error)
}

// ScoreArchiver commits a participant's round result into their permanent
// record once a room reaches FINISHED. Best-effort from the core's view.
type ScoreArchiver interface {
	PersistFinalScore(ctx context.Context, participantID, subjectLabel string, score, total int) error
}

// Field paths within a room document. The document is logically partitioned
// so concurrent writers never contend on the same field: the host writes
// FieldState, each participant writes only its own participant and answer
// fields.
const (
	FieldQuestions = "questions"
	FieldState     = "state"
)

const (
	participantPrefix = "participant/"
	answerPrefix      = "answer/"
)

// FieldParticipant is the field path of one participant's record.
func FieldParticipant(id string) string { return participantPrefix + id }

// FieldAnswer is the field path of one participant's answer to one question.
func FieldAnswer(index int, participantID string) string {
	return fmt.Sprintf("%s%d/%s", answerPrefix, index, participantID)
}

// EncodeField serializes a field value for the store. Every optional scalar
// must already be sanitized to a defined value before this point; the store
// cannot represent "unset".
func EncodeField(value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode field: %w", err)
	}
	return string(raw), nil
}

// DecodeRoomDocument rebuilds a document from its encoded fields plus the
// score counter hash. Both store implementations share this layout.
func DecodeRoomDocument(code string, fields map[string]string, scores map[string]int) (domain.RoomDocument, error) {
	doc := domain.RoomDocument{
		Code:         code,
		Participants: make(map[string]domain.Participant),
		Answers:      make(map[int]map[string]domain.Answer),
	}
	for field, raw := range fields {
		switch {
		case field == FieldQuestions:
			if err := json.Unmarshal([]byte(raw), &doc.Questions); err != nil {
				return domain.RoomDocument{}, fmt.Errorf("decode questions: %w", err)
			}
		case field == FieldState:
			if err := json.Unmarshal([]byte(raw), &doc.State); err != nil {
				return domain.RoomDocument{}, fmt.Errorf("decode state: %w", err)
			}
		case strings.HasPrefix(field, participantPrefix):
			var p domain.Participant
			if err := json.Unmarshal([]byte(raw), &p); err != nil {
				return domain.RoomDocument{}, fmt.Errorf("decode participant %s: %w", field, err)
			}
			doc.Participants[strings.TrimPrefix(field, participantPrefix)] = p
		case strings.HasPrefix(field, answerPrefix):
			rest := strings.TrimPrefix(field, answerPrefix)
			parts := strings.SplitN(rest, "/", 2)
			if len(parts) != 2 {
				continue
			}
			index, err := strconv.Atoi(parts[0])
			if err != nil {
				continue
			}
			var a domain.Answer
			if err := json.Unmarshal([]byte(raw), &a); err != nil {
				return domain.RoomDocument{}, fmt.Errorf("decode answer %s: %w", field, err)
			}
			if doc.Answers[index] == nil {
				doc.Answers[index] = make(map[string]domain.Answer)
			}
			doc.Answers[index][parts[1]] = a
		}
	}
	// Cumulative scores live in the counter hash, not in the participant
	// records, so concurrent increments never rewrite the record.
	for id, score := range scores {
		if p, ok := doc.Participants[id]; ok {
			p.Score = score
			doc.Participants[id] = p
		}
	}
	return doc, nil
}
