package bot

import (
	"log/slog"
	"sync"
)

// Turn is a single message in a user's conversation history, with an
// associated role ("user" or "assistant"). The system prompt is never
// stored as a turn; it's prepended when the request payload is built.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History holds per-user, bounded, in-memory conversation history.
//
// Each user's history is an insertion-ordered sequence of turns, capped
// at maxTurns. The cap is enforced on every write, with the oldest turns
// evicted first. Histories are isolated per user and live only for the
// lifetime of the process.
type History struct {
	maxTurns int
	logger   *slog.Logger

	mu    sync.Mutex
	users map[string]*userHistory
}

type userHistory struct {
	mu    sync.Mutex
	turns []Turn
}

// NewHistory creates a History capped at maxTurns turns per user.
func NewHistory(maxTurns int, logger *slog.Logger) *History {
	if logger == nil {
		logger = slog.Default()
	}
	if maxTurns < 1 {
		maxTurns = DefaultMaxHistoryTurns
	}
	return &History{
		maxTurns: maxTurns,
		logger:   logger,
		users:    map[string]*userHistory{},
	}
}

func (h *History) user(userID string) *userHistory {
	h.mu.Lock()
	defer h.mu.Unlock()
	u := h.users[userID]
	if u == nil {
		u = &userHistory{}
		h.users[userID] = u
	}
	return u
}

// Append adds the given turns to the user's history, trimming to the
// cap afterward.
func (h *History) Append(userID string, turns ...Turn) {
	u := h.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	u.turns = append(u.turns, turns...)
	if excess := len(u.turns) - h.maxTurns; excess > 0 {
		u.turns = u.turns[excess:]
		h.logger.Debug(
			"trimmed history",
			"user_id", userID,
			"evicted", excess,
			"max_turns", h.maxTurns,
		)
	}
}

// Turns returns a copy of the user's retained turns, oldest first.
func (h *History) Turns(userID string) []Turn {
	u := h.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	turns := make([]Turn, len(u.turns))
	copy(turns, u.turns)
	return turns
}

// Len returns the number of turns currently retained for the user.
func (h *History) Len(userID string) int {
	u := h.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.turns)
}

// Clear removes all of the user's retained turns. It's idempotent, and
// a no-op for users with no history.
func (h *History) Clear(userID string) {
	u := h.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	u.turns = nil
}
