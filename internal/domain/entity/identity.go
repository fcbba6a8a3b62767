package entity

import "time"

// Identity is the durable user the dispatcher resolves before anything
// else: the same person messaging from Telegram and Discord gets two
// Identity rows (keyed by channel), not one, since there is no reliable
// cross-channel user match.
type Identity struct {
	ID             int64
	ChannelType    ChannelType
	ExternalUserID string
	DisplayName    string
	CreatedAt      time.Time
}

// NewIdentity constructs a fresh identity row for a (channel_type, user_id)
// pair seen for the first time.
func NewIdentity(channelType ChannelType, externalUserID, displayName string) *Identity {
	return &Identity{
		ChannelType:    channelType,
		ExternalUserID: externalUserID,
		DisplayName:    displayName,
		CreatedAt:      time.Now(),
	}
}
