package telegram

import (
	"sync"

	"github.com/set-night/dermassist/internal/domain"
)

// ChatSessions remembers the active consultation of each chat.
type ChatSessions struct {
	mu     sync.RWMutex
	active map[int64]domain.SessionID
}

func NewChatSessions() *ChatSessions {
	return &ChatSessions{active: make(map[int64]domain.SessionID)}
}

func (c *ChatSessions) Get(chatID int64) (domain.SessionID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.active[chatID]
	return id, ok
}

// Set makes id the chat's active session and returns the one it replaced.
func (c *ChatSessions) Set(chatID int64, id domain.SessionID) (domain.SessionID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.active[chatID]
	c.active[chatID] = id
	return prev, ok
}

func (c *ChatSessions) Delete(chatID int64) (domain.SessionID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.active[chatID]
	delete(c.active, chatID)
	return prev, ok
}

// DeleteIf clears the chat only while it still points at id.
func (c *ChatSessions) DeleteIf(chatID int64, id domain.SessionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[chatID] == id {
		delete(c.active, chatID)
	}
}
