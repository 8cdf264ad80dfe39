package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

// RoomStore implements app.RoomStore on Redis. One hash per room holds the
// encoded document fields, a second hash holds the score counters (HINCRBY
// is the atomic-increment primitive), and a pub/sub channel per room carries
// change notifications; watchers re-read the document on each event.
//
// Layout:
//
//	HSET    room:{code}        {field} {json}
//	HSETNX  room:{code}        answer/{q}/{participant} {json}   (write-once)
//	HINCRBY room:{code}:scores {participant} {delta}
//	PUBLISH room:{code}:events {field}
type RoomStore struct {
	client *redis.Client
	// finishedTTL is applied to a room's keys once it reaches FINISHED so
	// inert rooms age out; live rooms never expire from here.
	finishedTTL time.Duration
}

func NewRoomStore(client *redis.Client, finishedTTL time.Duration) *RoomStore {
	return &RoomStore{client: client, finishedTTL: finishedTTL}
}

func (s *RoomStore) CreateRoom(ctx context.Context, doc domain.RoomDocument) error {
	state, err := app.EncodeField(doc.State)
	if err != nil {
		return err
	}
	questions, err := app.EncodeField(doc.Questions)
	if err != nil {
		return err
	}

	created, err := s.client.HSetNX(ctx, s.roomKey(doc.Code), app.FieldState, state).Result()
	if err != nil {
		return fmt.Errorf("create room %s: %w", doc.Code, err)
	}
	if !created {
		return domain.ErrRoomCodeTaken
	}
	if err := s.client.HSet(ctx, s.roomKey(doc.Code), app.FieldQuestions, questions).Err(); err != nil {
		return fmt.Errorf("write questions %s: %w", doc.Code, err)
	}
	return s.notify(ctx, doc.Code, app.FieldState)
}

func (s *RoomStore) Read(ctx context.Context, code string) (domain.RoomDocument, error) {
	fields, err := s.client.HGetAll(ctx, s.roomKey(code)).Result()
	if err != nil {
		return domain.RoomDocument{}, fmt.Errorf("read room %s: %w", code, err)
	}
	if len(fields) == 0 {
		return domain.RoomDocument{}, domain.ErrRoomNotFound
	}

	rawScores, err := s.client.HGetAll(ctx, s.scoresKey(code)).Result()
	if err != nil {
		return domain.RoomDocument{}, fmt.Errorf("read scores %s: %w", code, err)
	}
	scores := make(map[string]int, len(rawScores))
	for id, raw := range rawScores {
		n, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		scores[id] = n
	}
	return app.DecodeRoomDocument(code, fields, scores)
}

func (s *RoomStore) WriteField(ctx context.Context, code, field string, value any) error {
	raw, err := app.EncodeField(value)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.roomKey(code), field, raw).Err(); err != nil {
		return fmt.Errorf("write %s/%s: %w", code, field, err)
	}
	if field == app.FieldState {
		s.expireIfFinished(ctx, code, raw)
	}
	return s.notify(ctx, code, field)
}

func (s *RoomStore) WriteFieldOnce(ctx context.Context, code, field string, value any) (bool, error) {
	raw, err := app.EncodeField(value)
	if err != nil {
		return false, err
	}
	created, err := s.client.HSetNX(ctx, s.roomKey(code), field, raw).Result()
	if err != nil {
		return false, fmt.Errorf("write-once %s/%s: %w", code, field, err)
	}
	if created {
		if err := s.notify(ctx, code, field); err != nil {
			return true, err
		}
	}
	return created, nil
}

func (s *RoomStore) AtomicIncrement(ctx context.Context, code, participantID string, delta int) (int, error) {
	total, err := s.client.HIncrBy(ctx, s.scoresKey(code), participantID, int64(delta)).Result()
	if err != nil {
		return 0, fmt.Errorf("increment %s/%s: %w", code, participantID, err)
	}
	if err := s.notify(ctx, code, "scores/"+participantID); err != nil {
		return int(total), err
	}
	return int(total), nil
}

func (s *RoomStore) Subscribe(ctx context.Context, code string) (<-chan domain.RoomDocument, func(), error) {
	initial, err := s.Read(ctx, code)
	if err != nil {
		return nil, nil, err
	}

	pubsub := s.client.Subscribe(ctx, s.eventsChannel(code))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe room %s: %w", code, err)
	}

	out := make(chan domain.RoomDocument, 8)
	out <- initial

	go func() {
		defer close(out)
		for range pubsub.Channel() {
			doc, err := s.Read(ctx, code)
			if err != nil {
				continue
			}
			select {
			case out <- doc:
			default:
				// Keep only the newest snapshot for slow watchers.
				select {
				case <-out:
				default:
				}
				out <- doc
			}
		}
	}()

	cancel := func() { _ = pubsub.Close() }
	return out, cancel, nil
}

// expireIfFinished sets a TTL on the room's keys when the state write moved
// it into the terminal phase. External cleanup policy owns anything beyond
// that.
func (s *RoomStore) expireIfFinished(ctx context.Context, code, rawState string) {
	if s.finishedTTL <= 0 {
		return
	}
	var st domain.SessionState
	if err := json.Unmarshal([]byte(rawState), &st); err != nil || !st.Phase.Terminal() {
		return
	}
	pipe := s.client.Pipeline()
	pipe.Expire(ctx, s.roomKey(code), s.finishedTTL)
	pipe.Expire(ctx, s.scoresKey(code), s.finishedTTL)
	_, _ = pipe.Exec(ctx)
}

func (s *RoomStore) notify(ctx context.Context, code, field string) error {
	if err := s.client.Publish(ctx, s.eventsChannel(code), field).Err(); err != nil {
		return fmt.Errorf("notify %s: %w", code, err)
	}
	return nil
}

func (s *RoomStore) roomKey(code string) string { return "room:" + code }

func (s *RoomStore) scoresKey(code string) string { return "room:" + code + ":scores" }

func (s *RoomStore) eventsChannel(code string) string { return "room:" + code + ":events" }
