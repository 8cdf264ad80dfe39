package app_test

import (
	"testing"
	"time"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

func awardsFor(t *testing.T, answered map[string]time.Duration, wrong map[string]time.Duration) map[string]int {
	t.Helper()
	q := question("q1", "math", "5", domain.ScopeShared)
	opened := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	deadline := opened.Add(20 * time.Second)

	answers := make(map[string]domain.Answer)
	for id, after := range answered {
		answers[id] = domain.Answer{ChoiceID: q.CorrectChoiceID, SubmittedAt: opened.Add(after)}
	}
	for id, after := range wrong {
		answers[id] = domain.Answer{ChoiceID: "c1", SubmittedAt: opened.Add(after)}
	}
	return app.ComputeAwards(q, answers, opened, deadline, app.ScoringRules{BasePoints: 100, SpeedBonusMax: 100})
}

func TestComputeAwardsScalesBonusWithSpeed(t *testing.T) {
	awards := awardsFor(t, map[string]time.Duration{
		"instant": 0,
		"midway":  5 * time.Second,
		"buzzer":  20 * time.Second,
	}, nil)

	if awards["instant"] != 200 {
		t.Fatalf("instant answer should earn the full bonus, got %d", awards["instant"])
	}
	if awards["midway"] != 175 {
		t.Fatalf("answer at 5s of a 20s window should earn 175, got %d", awards["midway"])
	}
	if awards["buzzer"] != 100 {
		t.Fatalf("deadline answer should earn base points only, got %d", awards["buzzer"])
	}
}

func TestComputeAwardsIgnoresWrongAnswers(t *testing.T) {
	awards := awardsFor(t, nil, map[string]time.Duration{"wrong": time.Second})
	if _, present := awards["wrong"]; present {
		t.Fatalf("wrong answers must not appear in the awards map: %v", awards)
	}
}

func TestComputeAwardsClampsOutOfWindowTimestamps(t *testing.T) {
	// A clock-skewed submission timestamped before the open or after the
	// deadline still lands inside [base, base+bonus].
	awards := awardsFor(t, map[string]time.Duration{
		"early": -3 * time.Second,
		"late":  25 * time.Second,
	}, nil)

	if awards["early"] != 200 {
		t.Fatalf("pre-open timestamp should clamp to the full bonus, got %d", awards["early"])
	}
	if awards["late"] != 100 {
		t.Fatalf("post-deadline timestamp should clamp to base points, got %d", awards["late"])
	}
}

func TestComputeAwardsWithBonusDisabled(t *testing.T) {
	q := question("q1", "math", "5", domain.ScopeShared)
	opened := time.Now()
	answers := map[string]domain.Answer{
		"p1": {ChoiceID: q.CorrectChoiceID, SubmittedAt: opened},
	}
	awards := app.ComputeAwards(q, answers, opened, opened.Add(20*time.Second), app.ScoringRules{BasePoints: 50})
	if awards["p1"] != 50 {
		t.Fatalf("expected flat base points with bonus disabled, got %d", awards["p1"])
	}
}

func TestBuildLeaderboardOrdering(t *testing.T) {
	base := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	doc := domain.RoomDocument{
		Code: "123456",
		Participants: map[string]domain.Participant{
			"slow":  {ID: "slow", Name: "Slow", Score: 100, LastHeartbeatAt: base.Add(2 * time.Second)},
			"fast":  {ID: "fast", Name: "Fast", Score: 100, LastHeartbeatAt: base},
			"top":   {ID: "top", Name: "Top", Score: 300, LastHeartbeatAt: base.Add(time.Minute)},
			"zeros": {ID: "zeros", Name: "Zeros", Score: 0, LastHeartbeatAt: base},
		},
	}

	lb := app.BuildLeaderboard(doc, base.Add(time.Hour))
	order := make([]string, len(lb.Entries))
	for i, e := range lb.Entries {
		order[i] = e.ParticipantID
	}
	want := []string{"top", "fast", "slow", "zeros"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
	if lb.RoomCode != "123456" {
		t.Fatalf("expected room code carried through, got %q", lb.RoomCode)
	}
}
