package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"quizroom-service/internal/domain"
)

// submitRetries bounds the brief participant-side retry on store failures
// before surfacing a transient "couldn't submit" error to the user.
const (
	submitRetries       = 3
	submitRetryInterval = 200 * time.Millisecond
)

// ParticipantSession is the client-side session of one joined student. The
// room document is the source of truth; the session keeps no private state
// beyond its latest observed snapshot. It only ever writes its own
// participant and answer fields.
type ParticipantSession struct {
	store RoomStore
	log   logrus.FieldLogger
	clock func() time.Time

	code   string
	id     string
	name   string
	avatar string

	mu     sync.Mutex
	latest domain.RoomDocument
}

// JoinRoom joins a participant into a live room, creating its record or
// refreshing the heartbeat on rejoin. The accumulated score survives a
// rejoin because it lives in the store's counter, not in this record.
func JoinRoom(ctx context.Context, store RoomStore, log logrus.FieldLogger, code, participantID, name, avatar string) (*ParticipantSession, domain.RoomDocument, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	doc, err := store.Read(ctx, code)
	if err != nil {
		return nil, domain.RoomDocument{}, err
	}
	if doc.State.Phase.Terminal() {
		return nil, domain.RoomDocument{}, domain.ErrRoomAlreadyFinished
	}

	p := &ParticipantSession{
		store:  store,
		log:    log.WithField("room", code).WithField("participant", participantID),
		clock:  time.Now,
		code:   code,
		id:     participantID,
		name:   name,
		avatar: avatar,
		latest: doc,
	}
	if err := p.Heartbeat(ctx); err != nil {
		return nil, domain.RoomDocument{}, err
	}
	return p, doc, nil
}

// ID returns the participant identity of this session.
func (p *ParticipantSession) ID() string { return p.id }

// RoomCode returns the joined room's code.
func (p *ParticipantSession) RoomCode() string { return p.code }

// CurrentQuestion returns the question index of the latest observed state.
func (p *ParticipantSession) CurrentQuestion() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest.State.CurrentQuestion
}

// Watch subscribes to the room document and keeps the session's local
// snapshot current as the host transitions state under it.
func (p *ParticipantSession) Watch(ctx context.Context) (<-chan domain.RoomDocument, func(), error) {
	updates, cancel, err := p.store.Subscribe(ctx, p.code)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan domain.RoomDocument, 8)
	go func() {
		defer close(out)
		for doc := range updates {
			p.mu.Lock()
			p.latest = doc
			p.mu.Unlock()
			select {
			case out <- doc:
			default:
				// Drop a stale snapshot rather than block the watch; only
				// the newest document matters to a reconciling client.
				select {
				case <-out:
				default:
				}
				out <- doc
			}
		}
	}()
	return out, cancel, nil
}

// SubmitAnswer records this participant's choice for the current question.
// The local phase/deadline check is advisory; the authoritative guard is the
// store's write-once answer slot. A repeat submission returns
// domain.ErrAlreadyAnswered, which callers treat as a benign outcome of the
// UI-versus-network race, not a failure.
func (p *ParticipantSession) SubmitAnswer(ctx context.Context, choiceID string) error {
	p.mu.Lock()
	state := p.latest.State
	p.mu.Unlock()

	now := p.clock()
	if state.Phase != domain.PhaseQuestion || now.After(state.DeadlineAt) {
		return domain.ErrAnswerWindowClosed
	}

	answer := domain.Answer{ChoiceID: choiceID, SubmittedAt: now}
	field := FieldAnswer(state.CurrentQuestion, p.id)

	var created bool
	err := backoff.Retry(func() error {
		var err error
		created, err = p.store.WriteFieldOnce(ctx, p.code, field, answer)
		if err != nil && errors.Is(err, domain.ErrRoomNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(submitRetryInterval), submitRetries), ctx))
	if err != nil {
		return err
	}
	if !created {
		p.log.WithField("question", state.CurrentQuestion).Debug("duplicate submission ignored")
		return domain.ErrAlreadyAnswered
	}
	return nil
}

// Heartbeat refreshes this participant's record. A participant that stops
// heartbeating is excluded from the everyone-answered early close after the
// grace period; there is no explicit leave protocol.
func (p *ParticipantSession) Heartbeat(ctx context.Context) error {
	p.mu.Lock()
	score := 0
	if existing, ok := p.latest.Participants[p.id]; ok {
		score = existing.Score
	}
	p.mu.Unlock()

	return p.store.WriteField(ctx, p.code, FieldParticipant(p.id), domain.Participant{
		ID:              p.id,
		Name:            p.name,
		Avatar:          p.avatar,
		Score:           score,
		LastHeartbeatAt: p.clock(),
	})
}

// RunHeartbeat refreshes the heartbeat on a fixed interval until the context
// ends or the room finishes.
func (p *ParticipantSession) RunHeartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			finished := p.latest.State.Phase.Terminal()
			p.mu.Unlock()
			if finished {
				return
			}
			if err := p.Heartbeat(ctx); err != nil {
				p.log.WithError(err).Warn("heartbeat failed")
			}
		}
	}
}
