package app

import (
	"sort"
	"time"

	"quizroom-service/internal/domain"
)

// ScoringRules parameterizes per-question awards.
type ScoringRules struct {
	// BasePoints is the fixed award for a correct answer.
	BasePoints int
	// SpeedBonusMax is the additional award for an instant correct answer,
	// scaled down linearly to zero at the deadline.
	SpeedBonusMax int
}

// ComputeAwards calculates each participant's award for one closed question.
// Wrong or missing answers award zero; correct answers earn the base points
// plus a speed bonus proportional to how much of the answer window remained
// at submission time, clamped so awards stay non-negative and bounded by
// BasePoints+SpeedBonusMax.
func ComputeAwards(q domain.Question, answers map[string]domain.Answer, openedAt, deadline time.Time, rules ScoringRules) map[string]int {
	awards := make(map[string]int, len(answers))
	window := deadline.Sub(openedAt)
	for participantID, answer := range answers {
		if answer.ChoiceID != q.CorrectChoiceID {
			continue
		}
		award := rules.BasePoints
		if rules.SpeedBonusMax > 0 && window > 0 {
			remaining := deadline.Sub(answer.SubmittedAt)
			fraction := float64(remaining) / float64(window)
			if fraction < 0 {
				fraction = 0
			}
			if fraction > 1 {
				fraction = 1
			}
			award += int(float64(rules.SpeedBonusMax) * fraction)
		}
		awards[participantID] = award
	}
	return awards
}

// BuildLeaderboard orders a room's participants by score (descending), then
// earliest heartbeat, then name, for a stable reveal.
func BuildLeaderboard(doc domain.RoomDocument, now time.Time) domain.Leaderboard {
	entries := make([]domain.LeaderboardEntry, 0, len(doc.Participants))
	for _, p := range doc.Participants {
		entries = append(entries, domain.LeaderboardEntry{
			ParticipantID: p.ID,
			Name:          p.Name,
			Avatar:        p.Avatar,
			Score:         p.Score,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		pi := doc.Participants[entries[i].ParticipantID]
		pj := doc.Participants[entries[j].ParticipantID]
		if !pi.LastHeartbeatAt.Equal(pj.LastHeartbeatAt) {
			return pi.LastHeartbeatAt.Before(pj.LastHeartbeatAt)
		}
		return entries[i].Name < entries[j].Name
	})
	return domain.Leaderboard{RoomCode: doc.Code, Entries: entries, UpdatedAt: now}
}
