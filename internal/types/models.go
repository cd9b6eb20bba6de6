// internal/types/models.go
package types

import (
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation history. Messages are never mutated
// after they are appended.
type Message struct {
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Author         string    `json:"author,omitempty"`
	AttachmentRefs []string  `json:"attachment_refs,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

func UserMessage(author, content string, at time.Time, attachments ...string) Message {
	return Message{
		Role:           RoleUser,
		Content:        content,
		Author:         author,
		AttachmentRefs: attachments,
		Timestamp:      at,
	}
}

func AssistantMessage(content string, at time.Time) Message {
	return Message{Role: RoleAssistant, Content: content, Timestamp: at}
}

// ContextStats is the read-only introspection view of a context.
type ContextStats struct {
	Key          ContextKey `json:"key"`
	Name         string     `json:"name,omitempty"`
	MessageCount int        `json:"message_count"`
	Oldest       time.Time  `json:"oldest,omitzero"`
	Newest       time.Time  `json:"newest,omitzero"`
}

type InboundEvent struct {
	Source         string     `json:"source"`
	Key            ContextKey `json:"key"`
	UserID         string     `json:"user_id"`
	UserName       string     `json:"user_name"`
	Text           string     `json:"text"`
	AttachmentRefs []string   `json:"attachment_refs,omitempty"`
}
