package entity

import "time"

// ChannelType identifies the chat surface a message arrived on.
type ChannelType string

const (
	ChannelDiscord        ChannelType = "discord"
	ChannelTelegram       ChannelType = "telegram"
	ChannelSlack          ChannelType = "slack"
	ChannelTwitter        ChannelType = "twitter"
	ChannelWeb            ChannelType = "web"
	ChannelExternal       ChannelType = "external_channel"
)

// SessionMode is only meaningful for the cron entry-point, which picks
// between the shared main session and a throwaway isolated one.
type SessionMode string

const (
	SessionModeMain     SessionMode = "main"
	SessionModeIsolated SessionMode = "isolated"
)

// NormalizedMessage is the single inbound shape every channel adapter
// (Telegram, Discord, Slack, Twitter, web, cron) converts its native
// payload into before calling the dispatcher. The dispatcher never knows
// about a specific channel's wire format.
type NormalizedMessage struct {
	ChannelID      int64
	ChannelType    ChannelType
	ChatID         string
	UserID         string
	UserName       string
	MessageID      string

	Text string

	// SessionMode is set only by the cron entry-point; other channels
	// leave it empty and scope is derived from ChatID == UserID.
	SessionMode SessionMode

	ForceSafeMode   bool
	SelectedNetwork string

	ReceivedAt time.Time
}

// IsDM reports whether this message is a direct one-on-one conversation,
// used to derive ChatSession.Scope when SessionMode is not set.
func (m *NormalizedMessage) IsDM() bool {
	return m.ChatID == m.UserID
}
