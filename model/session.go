package model

import "time"

// MAX_HISTORY_MESSAGES bounds the per-session conversation history.
const MAX_HISTORY_MESSAGES int = 50

// Session is the durable record of one conversation. States holds the
// current state per flow, Versions the definition variant the conversation
// was assigned per flow. The assignment is part of the durable record so a
// parked conversation resumes on the same variant even when another process
// picks it up.
type Session struct {
	Id        string                `json:"id"`
	States    map[string]string     `json:"states"`
	Versions  map[string]string     `json:"versions,omitempty"`
	Data      map[string]any        `json:"data"`
	History   []ConversationMessage `json:"history,omitempty"`
	CreatedAt time.Time             `json:"createdAt"`
	UpdatedAt time.Time             `json:"updatedAt"`
}

func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		Id:        id,
		States:    make(map[string]string),
		Versions:  make(map[string]string),
		Data:      make(map[string]any),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

type ConversationMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// AppendHistory adds a message and trims the history to its bound.
func (s *Session) AppendHistory(role string, content string) {
	s.History = append(s.History, ConversationMessage{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	if len(s.History) > MAX_HISTORY_MESSAGES {
		s.History = s.History[len(s.History)-MAX_HISTORY_MESSAGES:]
	}
}

type OutboundMessage struct {
	Id         string         `json:"id"`
	Payload    map[string]any `json:"payload"`
	EnqueuedAt time.Time      `json:"enqueuedAt"`
}
