package app

import (
	"fmt"
	"math/rand"
)

// NewRoomCode produces a human-typeable 6-digit decimal room code with
// uniform distribution over 000000-999999. It keeps no state; the caller is
// responsible for collision checking against the store and regenerating on
// clash (see CreateRoom).
func NewRoomCode(rnd *rand.Rand) string {
	return fmt.Sprintf("%06d", rnd.Intn(1_000_000))
}
