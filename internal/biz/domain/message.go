package domain

import "time"

// InboundMessage is a chat message received in a channel
type InboundMessage struct {
	ID        string
	ChannelID string
	SenderID  string
	Text      string
	IsBot     bool
	CreatedAt time.Time
}

// IsCommandCandidate reports whether the message can carry a console command.
func (m *InboundMessage) IsCommandCandidate() bool {
	return !m.IsBot && m.SenderID != "" && m.Text != ""
}
