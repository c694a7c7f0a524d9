package nl2sql

import "sync"

const DefaultMaxTurns = 10

type Turn struct {
	Question    string
	SQL         string
	Explanation string
}

// Conversation keeps the most recent turns of a session. A MaxTurns of zero
// keeps every turn.
type Conversation struct {
	mu       sync.Mutex
	maxTurns int
	turns    []Turn
}

func NewConversation(maxTurns int) *Conversation {
	if maxTurns < 0 {
		maxTurns = 0
	}
	return &Conversation{maxTurns: maxTurns}
}

func (c *Conversation) Append(turn Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, turn)
	if c.maxTurns > 0 && len(c.turns) > c.maxTurns {
		evict := len(c.turns) - c.maxTurns
		c.turns = append([]Turn(nil), c.turns[evict:]...)
	}
}

// Turns returns a copy, oldest first.
func (c *Conversation) Turns() []Turn {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Turn(nil), c.turns...)
}

func (c *Conversation) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

func (c *Conversation) Clear() {
	c.mu.Lock()
	c.turns = nil
	c.mu.Unlock()
}
