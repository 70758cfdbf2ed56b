package domain

import (
	"time"
)

type SessionID string

// Turn is one follow-up exchange.
type Turn struct {
	UserMessage string
	BotAnswer   string
	Final       bool
	Usage       Usage
	CreatedAt   time.Time
}

// Session holds one image context and the conversation built on top of it.
// Image is set at creation and never changes.
type Session struct {
	ID              SessionID
	InitialAnalysis string
	ChatHistory     []Turn
	Image           Image
	DetailLevel     string
	Usage           Usage
	CreatedAt       time.Time
	LastActive      time.Time
}

func (s *Session) HasInitialAnalysis() bool {
	return s.InitialAnalysis != ""
}

// Clone returns a copy that shares no mutable state with s.
func (s *Session) Clone() *Session {
	c := *s
	c.ChatHistory = make([]Turn, len(s.ChatHistory))
	copy(c.ChatHistory, s.ChatHistory)
	return &c
}

// Image is an uploaded picture prepared for transport.
type Image struct {
	Base64 string
	MIME   string
	Width  int
	Height int
	Size   int
}

// DataURL renders the image as an inline data URL for multimodal content.
func (i Image) DataURL() string {
	return "data:" + i.MIME + ";base64," + i.Base64
}
