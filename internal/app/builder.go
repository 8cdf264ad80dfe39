package app

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"quizroom-service/internal/domain"
)

// BuildRequest describes the question set a host wants for a room.
type BuildRequest struct {
	// Subject is a specific subject name or domain.SubjectMixed to draw
	// from every subject available to the host.
	Subject string
	// Grade filters questions to this grade tag or domain.GradeAny.
	Grade string
	// HostScope is the host's content scope; questions from it or from
	// domain.ScopeShared pass the filter.
	HostScope string
	// Count is the exact number of questions the set must contain.
	Count int
}

// QuestionSetBuilder assembles, filters, shuffles, and sanitizes the round's
// questions before the session starts. The set is fully resolved here; no
// question loads lazily mid-session.
type QuestionSetBuilder struct {
	source QuestionSource
	rnd    *rand.Rand
}

func NewQuestionSetBuilder(source QuestionSource, rnd *rand.Rand) *QuestionSetBuilder {
	return &QuestionSetBuilder{source: source, rnd: rnd}
}

// Build returns an ordered set of exactly req.Count sanitized questions, or
// a *domain.InsufficientContentError naming the shortfall.
func (b *QuestionSetBuilder) Build(ctx context.Context, req BuildRequest) ([]domain.Question, error) {
	pool, err := b.fetchPool(ctx, req.Subject)
	if err != nil {
		return nil, err
	}

	filtered := make([]domain.Question, 0, len(pool))
	seen := make(map[string]struct{}, len(pool))
	for _, q := range pool {
		if !matchesGrade(q, req.Grade) || !matchesScope(q, req.HostScope) {
			continue
		}
		// Mixed-mode pools are concatenated per subject; drop duplicate IDs.
		if _, dup := seen[q.ID]; dup {
			continue
		}
		seen[q.ID] = struct{}{}
		filtered = append(filtered, q)
	}

	if len(filtered) < req.Count {
		return nil, &domain.InsufficientContentError{
			Subject:   req.Subject,
			Grade:     req.Grade,
			Requested: req.Count,
			Available: len(filtered),
		}
	}

	b.rnd.Shuffle(len(filtered), func(i, j int) {
		filtered[i], filtered[j] = filtered[j], filtered[i]
	})

	set := make([]domain.Question, req.Count)
	for i, q := range filtered[:req.Count] {
		set[i] = SanitizeQuestion(q)
	}
	return set, nil
}

func (b *QuestionSetBuilder) fetchPool(ctx context.Context, subject string) ([]domain.Question, error) {
	if subject != domain.SubjectMixed {
		return b.source.FetchBySubject(ctx, subject)
	}
	// Mixed mode fetches every subject's pool and concatenates, accepting
	// the cost of the larger fetch.
	subjects, err := b.source.Subjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	var pool []domain.Question
	for _, s := range subjects {
		qs, err := b.source.FetchBySubject(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("fetch subject %s: %w", s, err)
		}
		pool = append(pool, qs...)
	}
	return pool, nil
}

func matchesGrade(q domain.Question, grade string) bool {
	return q.Grade == grade || q.Grade == domain.GradeAny
}

func matchesScope(q domain.Question, hostScope string) bool {
	return q.Scope == hostScope || q.Scope == domain.ScopeShared
}

// SanitizeQuestion normalizes a question to guaranteed-defined scalar values.
// The destination store cannot represent "unset", so every optional field
// becomes an explicit empty value. This is a serialization contract, not a
// game rule.
func SanitizeQuestion(q domain.Question) domain.Question {
	q.ID = strings.TrimSpace(q.ID)
	q.Subject = strings.TrimSpace(q.Subject)
	q.Grade = strings.TrimSpace(q.Grade)
	if q.Grade == "" {
		q.Grade = domain.GradeAny
	}
	q.Scope = strings.TrimSpace(q.Scope)
	q.Prompt = strings.TrimSpace(q.Prompt)
	q.ImageRef = strings.TrimSpace(q.ImageRef)
	q.Explanation = strings.TrimSpace(q.Explanation)

	if q.Choices == nil {
		q.Choices = []domain.Choice{}
	}
	for i := range q.Choices {
		if q.Choices[i].ID == "" {
			q.Choices[i].ID = fmt.Sprintf("c%d", i+1)
		}
		q.Choices[i].Text = strings.TrimSpace(q.Choices[i].Text)
	}
	if q.CorrectChoiceID == "" && len(q.Choices) > 0 {
		q.CorrectChoiceID = q.Choices[0].ID
	}
	return q
}
