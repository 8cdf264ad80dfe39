package domain

// Phase is the current stage of a room's lifecycle.
type Phase string

const (
	// PhaseLobby accepts joins; no timer is running.
	PhaseLobby Phase = "LOBBY"
	// PhaseCountdown is the fixed pre-round delay before the first question.
	PhaseCountdown Phase = "COUNTDOWN"
	// PhaseQuestion accepts answers until the phase deadline.
	PhaseQuestion Phase = "QUESTION"
	// PhaseLeaderboard has answers locked and scores revealed.
	PhaseLeaderboard Phase = "LEADERBOARD"
	// PhaseFinished is terminal; the room is inert and may be reclaimed by
	// the store's TTL policy.
	PhaseFinished Phase = "FINISHED"
)

// Terminal reports whether no further state writes are accepted.
func (p Phase) Terminal() bool { return p == PhaseFinished }

// phaseSuccessors lists the phases reachable by a legal host transition.
var phaseSuccessors = map[Phase][]Phase{
	PhaseLobby:       {PhaseCountdown},
	PhaseCountdown:   {PhaseQuestion},
	PhaseQuestion:    {PhaseLeaderboard},
	PhaseLeaderboard: {PhaseQuestion, PhaseFinished},
	PhaseFinished:    {},
}

// CanTransition reports whether p -> next is a legal phase transition.
func (p Phase) CanTransition(next Phase) bool {
	for _, allowed := range phaseSuccessors[p] {
		if allowed == next {
			return true
		}
	}
	return false
}
