package domain

import "time"

// Sentinel tags recognized by the question filters.
const (
	// SubjectMixed asks the builder to draw from every subject available
	// to the host instead of a single pool.
	SubjectMixed = "mixed"
	// GradeAny marks a question as suitable for every grade.
	GradeAny = "any"
	// ScopeShared marks centrally-authored content visible to all hosts.
	ScopeShared = "shared"
)

// Choice is one selectable answer of a question.
type Choice struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question is a single quiz question. After sanitization every field is a
// defined scalar (empty string rather than absent) because the shared
// document store cannot represent "unset".
type Question struct {
	ID              string   `json:"id"`
	Subject         string   `json:"subject"`
	Grade           string   `json:"grade"`
	Scope           string   `json:"scope"`
	Prompt          string   `json:"prompt"`
	ImageRef        string   `json:"imageRef"`
	Choices         []Choice `json:"choices"` // 2-4 entries with stable IDs
	CorrectChoiceID string   `json:"correctChoiceId"`
	Explanation     string   `json:"explanation"`
}

// Participant is one joined student in a room. Score is maintained by the
// store's atomic counter, never by rewriting this record.
type Participant struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Avatar          string    `json:"avatar"`
	Score           int       `json:"score"`
	LastHeartbeatAt time.Time `json:"lastHeartbeatAt"`
}

// Answer is a participant's submission for one question, write-once per
// (participant, question index) pair.
type Answer struct {
	ChoiceID    string    `json:"choiceId"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// SessionState is the host-owned phase metadata of a room. Only the host
// client ever writes this field group.
type SessionState struct {
	Phase            Phase         `json:"phase"`
	CurrentQuestion  int           `json:"currentQuestion"`
	TotalQuestions   int           `json:"totalQuestions"`
	QuestionOpenedAt time.Time     `json:"questionOpenedAt"`
	DeadlineAt       time.Time     `json:"deadlineAt"`
	TimePerQuestion  time.Duration `json:"timePerQuestion"`
	SubjectLabel     string        `json:"subjectLabel"`
	GradeLabel       string        `json:"gradeLabel"`
	HostID           string        `json:"hostId"`
	HostName         string        `json:"hostName"`
	// Scored[i] is set exactly once, by the host transition that closes
	// question i. It guards the aggregator against double-applying awards.
	Scored []bool `json:"scored"`
}

// RoomDocument is the full shared document of one live room as assembled by
// a store read. Answers is keyed by question index, then participant ID.
type RoomDocument struct {
	Code         string                    `json:"code"`
	Questions    []Question                `json:"questions"`
	State        SessionState              `json:"state"`
	Participants map[string]Participant    `json:"participants"`
	Answers      map[int]map[string]Answer `json:"answers"`
}

// AnswersFor returns the submissions recorded for one question index.
func (d RoomDocument) AnswersFor(index int) map[string]Answer {
	if d.Answers == nil {
		return nil
	}
	return d.Answers[index]
}

// LeaderboardEntry is a snapshot-friendly view of a participant.
type LeaderboardEntry struct {
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
	Avatar        string `json:"avatar"`
	Score         int    `json:"score"`
}

// Leaderboard captures the ordered scoreboard for a room.
type Leaderboard struct {
	RoomCode  string             `json:"roomCode"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}
