package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrRoomNotFound is returned when no live room matches a code.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomAlreadyFinished is returned when joining a terminal room.
	ErrRoomAlreadyFinished = errors.New("room already finished")
	// ErrRoomCodeTaken indicates a code collision at room creation; the
	// caller regenerates and retries.
	ErrRoomCodeTaken = errors.New("room code taken")
	// ErrAnswerWindowClosed rejects a submission outside an open QUESTION
	// phase or past its deadline.
	ErrAnswerWindowClosed = errors.New("answer window closed")
	// ErrAlreadyAnswered marks a repeat submission for the same question.
	// It is a benign race outcome, not a user-facing failure.
	ErrAlreadyAnswered = errors.New("already answered")
	// ErrNoParticipants rejects starting a room nobody has joined.
	ErrNoParticipants = errors.New("no participants have joined")
	// ErrNotHost is returned when a non-host identity tries to drive a room.
	ErrNotHost = errors.New("only the host may drive the session")
	// ErrRoomFinished rejects state writes after the terminal phase.
	ErrRoomFinished = errors.New("room is finished")
)

// InsufficientContentError reports that the question pool could not satisfy
// the requested subject/grade/count combination. Surfaced to the host before
// any room is created.
type InsufficientContentError struct {
	Subject   string
	Grade     string
	Requested int
	Available int
}

func (e *InsufficientContentError) Error() string {
	return fmt.Sprintf("insufficient content for subject %q grade %q: requested %d, available %d",
		e.Subject, e.Grade, e.Requested, e.Available)
}

// Shortfall is how many questions the pool was missing.
func (e *InsufficientContentError) Shortfall() int {
	return e.Requested - e.Available
}
