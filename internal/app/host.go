package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"quizroom-service/internal/domain"
)

// SessionConfig carries the timing and scoring knobs of a live session.
type SessionConfig struct {
	// CountdownDelay is the fixed pre-round delay between LOBBY and the
	// first QUESTION.
	CountdownDelay time.Duration
	// TimePerQuestion is the length of each answer window.
	TimePerQuestion time.Duration
	// RevealDelay is how long a LEADERBOARD phase stays up before the next
	// question opens.
	RevealDelay time.Duration
	// HeartbeatGrace is how stale a participant heartbeat may be before the
	// participant stops counting toward the everyone-answered early close.
	HeartbeatGrace time.Duration
	// TransitionRetryMax bounds the backoff spent retrying store calls
	// during a phase transition. A skipped transition leaves the room stuck,
	// so transitions retry rather than skip.
	TransitionRetryMax time.Duration
	Rules              ScoringRules
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.CountdownDelay <= 0 {
		c.CountdownDelay = 3 * time.Second
	}
	if c.TimePerQuestion <= 0 {
		c.TimePerQuestion = 20 * time.Second
	}
	if c.RevealDelay <= 0 {
		c.RevealDelay = 5 * time.Second
	}
	if c.HeartbeatGrace <= 0 {
		c.HeartbeatGrace = 15 * time.Second
	}
	if c.TransitionRetryMax <= 0 {
		c.TransitionRetryMax = 10 * time.Second
	}
	if c.Rules.BasePoints <= 0 {
		c.Rules.BasePoints = 100
	}
	// Zero means "use the default bonus"; a negative value disables the
	// speed bonus entirely.
	if c.Rules.SpeedBonusMax == 0 {
		c.Rules.SpeedBonusMax = 100
	} else if c.Rules.SpeedBonusMax < 0 {
		c.Rules.SpeedBonusMax = 0
	}
	return c
}

// CreateRoomRequest describes a new room for CreateRoom.
type CreateRoomRequest struct {
	HostID   string
	HostName string
	Build    BuildRequest
}

// roomCodeAttempts bounds the collision-retry loop; with a million codes and
// a handful of live rooms, a second attempt is already rare.
const roomCodeAttempts = 16

// HostSession is the authoritative state machine for one room, owned and
// driven by the host client. Only this session writes the room's state
// field; correctness of phase transitions depends on the host's local clock
// and its own view of submission completeness.
type HostSession struct {
	store    RoomStore
	archiver ScoreArchiver
	cfg      SessionConfig
	clock    func() time.Time
	log      logrus.FieldLogger
	code     string
	kick     chan struct{}

	mu          sync.Mutex
	state       domain.SessionState
	questions   []domain.Question
	phaseEndsAt time.Time
	persisted   bool
}

// CreateRoom builds the question set, allocates a unique room code, and
// writes the initial LOBBY document. The returned session is not running
// until Run is called.
func CreateRoom(ctx context.Context, store RoomStore, builder *QuestionSetBuilder, rnd *rand.Rand, archiver ScoreArchiver, cfg SessionConfig, log logrus.FieldLogger, req CreateRoomRequest) (*HostSession, error) {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logrus.StandardLogger()
	}

	questions, err := builder.Build(ctx, req.Build)
	if err != nil {
		return nil, err
	}

	state := domain.SessionState{
		Phase:           domain.PhaseLobby,
		CurrentQuestion: 0,
		TotalQuestions:  len(questions),
		TimePerQuestion: cfg.TimePerQuestion,
		SubjectLabel:    req.Build.Subject,
		GradeLabel:      req.Build.Grade,
		HostID:          req.HostID,
		HostName:        req.HostName,
		Scored:          make([]bool, len(questions)),
	}

	for attempt := 0; attempt < roomCodeAttempts; attempt++ {
		code := NewRoomCode(rnd)
		err := store.CreateRoom(ctx, domain.RoomDocument{
			Code:      code,
			Questions: questions,
			State:     state,
		})
		if errors.Is(err, domain.ErrRoomCodeTaken) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create room: %w", err)
		}
		return newHostSession(store, archiver, cfg, log, code, state, questions), nil
	}
	return nil, fmt.Errorf("create room: no free room code after %d attempts", roomCodeAttempts)
}

// ResumeHostSession re-attaches the same host identity to a live room so a
// reconnected host can continue driving it from the persisted state. There
// is no other recovery path for a stalled room.
func ResumeHostSession(ctx context.Context, store RoomStore, archiver ScoreArchiver, cfg SessionConfig, log logrus.FieldLogger, code, hostID string) (*HostSession, error) {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logrus.StandardLogger()
	}

	doc, err := store.Read(ctx, code)
	if err != nil {
		return nil, err
	}
	if doc.State.HostID != hostID {
		return nil, domain.ErrNotHost
	}
	if doc.State.Phase.Terminal() {
		return nil, domain.ErrRoomAlreadyFinished
	}

	h := newHostSession(store, archiver, cfg, log, code, doc.State, doc.Questions)
	now := h.clock()
	switch doc.State.Phase {
	case domain.PhaseCountdown:
		h.phaseEndsAt = now.Add(cfg.CountdownDelay)
	case domain.PhaseQuestion:
		h.phaseEndsAt = doc.State.DeadlineAt
	case domain.PhaseLeaderboard:
		h.phaseEndsAt = now.Add(cfg.RevealDelay)
	}
	return h, nil
}

func newHostSession(store RoomStore, archiver ScoreArchiver, cfg SessionConfig, log logrus.FieldLogger, code string, state domain.SessionState, questions []domain.Question) *HostSession {
	return &HostSession{
		store:     store,
		archiver:  archiver,
		cfg:       cfg,
		clock:     time.Now,
		log:       log.WithField("room", code),
		code:      code,
		kick:      make(chan struct{}, 1),
		state:     state,
		questions: questions,
	}
}

// Code returns the room code of this session.
func (h *HostSession) Code() string { return h.code }

// State returns a copy of the host's current view of the session state.
func (h *HostSession) State() domain.SessionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Start triggers LOBBY -> COUNTDOWN. It requires at least one joined
// participant; running an empty room is rejected by policy.
func (h *HostSession) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.startLocked(ctx); err != nil {
		return err
	}
	h.kickLocked()
	return nil
}

func (h *HostSession) startLocked(ctx context.Context) error {
	if h.state.Phase.Terminal() {
		return domain.ErrRoomFinished
	}
	if h.state.Phase != domain.PhaseLobby {
		return fmt.Errorf("start: room %s already started", h.code)
	}

	doc, err := h.readDoc(ctx)
	if err != nil {
		return err
	}
	if len(doc.Participants) == 0 {
		return domain.ErrNoParticipants
	}

	st := h.state
	st.Phase = domain.PhaseCountdown
	if err := h.writeState(ctx, st); err != nil {
		return err
	}
	h.state = st
	h.phaseEndsAt = h.clock().Add(h.cfg.CountdownDelay)
	return nil
}

// Run drives the session: a single event loop reacting to document change
// notifications, local timers, and host commands. It returns once the room
// reaches FINISHED or the context is canceled.
func (h *HostSession) Run(ctx context.Context) error {
	updates, cancel, err := h.store.Subscribe(ctx, h.code)
	if err != nil {
		return fmt.Errorf("watch room %s: %w", h.code, err)
	}
	defer cancel()

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		phase, wait := h.phaseWait()
		if phase.Terminal() {
			return nil
		}

		var timerC <-chan time.Time
		if wait >= 0 {
			timer.Reset(wait)
			timerC = timer.C
		}

		fired := false
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.kick:
		case doc, ok := <-updates:
			if !ok {
				return fmt.Errorf("watch on room %s closed", h.code)
			}
			h.observe(ctx, doc)
		case <-timerC:
			fired = true
			h.onTimer(ctx)
		}

		if timerC != nil && !fired && !timer.Stop() {
			<-timer.C
		}
	}
}

// phaseWait returns the current phase and how long until the next
// timer-driven transition, or -1 when no timer applies (LOBBY).
func (h *HostSession) phaseWait() (domain.Phase, time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state.Phase {
	case domain.PhaseCountdown, domain.PhaseQuestion, domain.PhaseLeaderboard:
		wait := h.phaseEndsAt.Sub(h.clock())
		if wait < 0 {
			wait = 0
		}
		return h.state.Phase, wait
	default:
		return h.state.Phase, -1
	}
}

func (h *HostSession) onTimer(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	switch h.state.Phase {
	case domain.PhaseCountdown:
		err = h.openQuestionLocked(ctx, 0)
	case domain.PhaseQuestion:
		err = h.closeQuestionLocked(ctx)
	case domain.PhaseLeaderboard:
		err = h.advanceLocked(ctx)
	}
	if err != nil {
		h.log.WithError(err).Error("phase transition failed")
	}
}

// observe handles a document change notification. During QUESTION it closes
// the window early once every connected participant has answered.
func (h *HostSession) observe(ctx context.Context, doc domain.RoomDocument) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state.Phase != domain.PhaseQuestion {
		return
	}

	answers := doc.AnswersFor(h.state.CurrentQuestion)
	now := h.clock()
	connected, answered := 0, 0
	for id, p := range doc.Participants {
		// A participant that stopped refreshing its heartbeat no longer
		// holds the window open.
		if now.Sub(p.LastHeartbeatAt) > h.cfg.HeartbeatGrace {
			continue
		}
		connected++
		if _, ok := answers[id]; ok {
			answered++
		}
	}
	if connected == 0 || answered < connected {
		return
	}
	if err := h.closeQuestionLocked(ctx); err != nil {
		h.log.WithError(err).Error("early close failed")
	}
}

// openQuestionLocked transitions into QUESTION for the given index and opens
// the answer window. The index never decreases and never exceeds the
// question set.
func (h *HostSession) openQuestionLocked(ctx context.Context, index int) error {
	st := h.state
	if st.Phase != domain.PhaseCountdown && st.Phase != domain.PhaseLeaderboard {
		return fmt.Errorf("open question: unexpected phase %s", st.Phase)
	}
	if index < st.CurrentQuestion || index >= len(h.questions) {
		return fmt.Errorf("open question: index %d out of range (current %d, total %d)", index, st.CurrentQuestion, len(h.questions))
	}

	now := h.clock()
	st.Phase = domain.PhaseQuestion
	st.CurrentQuestion = index
	st.QuestionOpenedAt = now
	st.DeadlineAt = now.Add(h.cfg.TimePerQuestion)
	if err := h.writeState(ctx, st); err != nil {
		return err
	}
	h.state = st
	h.phaseEndsAt = st.DeadlineAt
	return nil
}

// closeQuestionLocked transitions QUESTION -> LEADERBOARD, scoring the
// closed window exactly once. Closing is idempotent: a second invocation, or
// a late message arriving after closure, is a no-op.
func (h *HostSession) closeQuestionLocked(ctx context.Context) error {
	st := h.state
	if st.Phase != domain.PhaseQuestion {
		return nil
	}

	index := st.CurrentQuestion
	if !st.Scored[index] {
		doc, err := h.readDoc(ctx)
		if err != nil {
			return err
		}
		awards := ComputeAwards(h.questions[index], doc.AnswersFor(index), st.QuestionOpenedAt, st.DeadlineAt, h.cfg.Rules)
		for participantID, award := range awards {
			if err := h.increment(ctx, participantID, award); err != nil {
				return fmt.Errorf("award %s: %w", participantID, err)
			}
		}
		scored := append([]bool(nil), st.Scored...)
		scored[index] = true
		st.Scored = scored
	}

	st.Phase = domain.PhaseLeaderboard
	if err := h.writeState(ctx, st); err != nil {
		return err
	}
	h.state = st
	h.phaseEndsAt = h.clock().Add(h.cfg.RevealDelay)
	return nil
}

// advanceLocked leaves LEADERBOARD: either reopens a QUESTION window for the
// next index or finishes the session when the set is exhausted.
func (h *HostSession) advanceLocked(ctx context.Context) error {
	st := h.state
	if st.Phase != domain.PhaseLeaderboard {
		return fmt.Errorf("advance: unexpected phase %s", st.Phase)
	}
	if st.CurrentQuestion+1 < st.TotalQuestions {
		return h.openQuestionLocked(ctx, st.CurrentQuestion+1)
	}
	return h.finishLocked(ctx)
}

// finishLocked transitions to the terminal phase and commits each
// participant's accumulated score to their permanent record. Persistence is
// fire-and-forget: failures are logged and never block completion.
func (h *HostSession) finishLocked(ctx context.Context) error {
	st := h.state
	st.Phase = domain.PhaseFinished
	if err := h.writeState(ctx, st); err != nil {
		return err
	}
	h.state = st

	if h.archiver == nil || h.persisted {
		return nil
	}
	h.persisted = true

	doc, err := h.readDoc(ctx)
	if err != nil {
		h.log.WithError(err).Warn("final score read failed; scores not archived")
		return nil
	}
	for id, p := range doc.Participants {
		if err := h.archiver.PersistFinalScore(ctx, id, st.SubjectLabel, p.Score, st.TotalQuestions); err != nil {
			h.log.WithError(err).WithField("participant", id).Warn("final score persist failed")
		}
	}
	return nil
}

func (h *HostSession) kickLocked() {
	select {
	case h.kick <- struct{}{}:
	default:
	}
}

func (h *HostSession) writeState(ctx context.Context, st domain.SessionState) error {
	if st.Phase != h.state.Phase && !h.state.Phase.CanTransition(st.Phase) {
		return fmt.Errorf("illegal transition %s -> %s", h.state.Phase, st.Phase)
	}
	return h.retry(ctx, func() error {
		return h.store.WriteField(ctx, h.code, FieldState, st)
	})
}

func (h *HostSession) readDoc(ctx context.Context) (domain.RoomDocument, error) {
	var doc domain.RoomDocument
	err := h.retry(ctx, func() error {
		var err error
		doc, err = h.store.Read(ctx, h.code)
		return err
	})
	return doc, err
}

func (h *HostSession) increment(ctx context.Context, participantID string, delta int) error {
	return h.retry(ctx, func() error {
		_, err := h.store.AtomicIncrement(ctx, h.code, participantID, delta)
		return err
	})
}

// retry runs a store operation with exponential backoff. Domain-level
// outcomes are permanent; only store unavailability is worth retrying.
func (h *HostSession) retry(ctx context.Context, op func() error) error {
	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrRoomNotFound) || errors.Is(err, domain.ErrRoomFinished) {
			return backoff.Permanent(err)
		}
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxElapsedTime = h.cfg.TransitionRetryMax
	return backoff.Retry(wrapped, backoff.WithContext(bo, ctx))
}
