package app_test

import (
	"math/rand"
	"testing"

	"quizroom-service/internal/app"
)

func TestNewRoomCodeShape(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		code := app.NewRoomCode(rnd)
		if len(code) != 6 {
			t.Fatalf("expected 6 characters, got %q", code)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("expected decimal digits only, got %q", code)
			}
		}
	}
}

func TestNewRoomCodeIsDeterministicPerSeed(t *testing.T) {
	a := rand.New(rand.NewSource(42))
	b := rand.New(rand.NewSource(42))
	for i := 0; i < 10; i++ {
		if ca, cb := app.NewRoomCode(a), app.NewRoomCode(b); ca != cb {
			t.Fatalf("same seed diverged: %q vs %q", ca, cb)
		}
	}
}
