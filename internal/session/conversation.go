package session

import (
	"sync"

	"github.com/wuwenbin0122/kbagent/internal/models"
)

// Conversation is an append-only transcript that can only be emptied as a whole.
type Conversation struct {
	mu    sync.RWMutex
	turns []models.ConversationTurn
}

func NewConversation() *Conversation {
	return &Conversation{}
}

func (c *Conversation) Append(turn models.ConversationTurn) {
	c.mu.Lock()
	c.turns = append(c.turns, turn)
	c.mu.Unlock()
}

// All returns a copy of the turns in insertion order.
func (c *Conversation) All() []models.ConversationTurn {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.ConversationTurn, len(c.turns))
	copy(out, c.turns)
	return out
}

func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

func (c *Conversation) Clear() {
	c.mu.Lock()
	c.turns = nil
	c.mu.Unlock()
}
