package models

import "time"

// IdentityModel is the durable per-(channel_type, external_user_id) row.
type IdentityModel struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	ChannelType    string `gorm:"size:32;not null;uniqueIndex:idx_identity_channel_user"`
	ExternalUserID string `gorm:"size:128;not null;uniqueIndex:idx_identity_channel_user"`
	DisplayName    string `gorm:"size:256"`
	CreatedAt      time.Time
}

func (IdentityModel) TableName() string { return "identities" }

// ChatSessionModel persists entity.ChatSession.
type ChatSessionModel struct {
	ID                  int64  `gorm:"primaryKey;autoIncrement"`
	SessionKey          string `gorm:"size:256;not null;uniqueIndex"`
	ChannelType         string `gorm:"size:32;not null"`
	ChannelID           int64  `gorm:"index;not null"`
	PlatformChatID      string `gorm:"size:128;not null"`
	Scope               string `gorm:"size:16;not null"`
	ContextTokens       int
	MaxContextTokens    int
	CompactionID        *int64
	LastCompactionMsgID *int64
	CompletionStatus    string `gorm:"size:16;not null"`
	SafeMode            bool
	SpecialRole         string `gorm:"size:64"`
	TotalIterations     int
	ModeIterations      int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (ChatSessionModel) TableName() string { return "chat_sessions" }

// SessionMessageModel persists entity.SessionMessage.
type SessionMessageModel struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	SessionID  int64  `gorm:"index;not null"`
	Role       string `gorm:"size:16;not null"`
	Content    string `gorm:"type:text;not null"`
	TokensUsed int
	ToolName   string `gorm:"size:128"`
	CreatedAt  time.Time
}

func (SessionMessageModel) TableName() string { return "session_messages" }

// MemoryModel persists entity.Memory.
type MemoryModel struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	SessionID  int64  `gorm:"index"`
	IdentityID string `gorm:"size:64;index"`
	Type       string `gorm:"size:32;not null"`
	Importance int
	Content    string `gorm:"type:text;not null"`
	CreatedAt  time.Time
}

func (MemoryModel) TableName() string { return "memories" }

// AgentSettingsModel persists entity.AgentSettings, one row per channel.
type AgentSettingsModel struct {
	ChannelID   int64 `gorm:"primaryKey"`
	Model       string `gorm:"size:128;not null"`
	MaxTokens   int
	Temperature float64
}

func (AgentSettingsModel) TableName() string { return "agent_settings" }

// SpecialRoleGrantModel persists entity.SpecialRoleGrant.
type SpecialRoleGrantModel struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	ChannelType    string `gorm:"size:32;not null;uniqueIndex:idx_role_channel_user"`
	ExternalUserID string `gorm:"size:128;not null;uniqueIndex:idx_role_channel_user"`
	RoleName       string `gorm:"size:64;not null"`
	ExtraTools     string `gorm:"type:text"` // comma-separated
	ExtraSkills    string `gorm:"type:text"` // comma-separated
}

func (SpecialRoleGrantModel) TableName() string { return "special_role_grants" }

// DailyLogModel holds one identity's running notes for a single day.
type DailyLogModel struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	IdentityID string `gorm:"size:64;not null;uniqueIndex:idx_daily_log_identity_date"`
	LogDate    string `gorm:"size:10;not null;uniqueIndex:idx_daily_log_identity_date"` // YYYY-MM-DD
	Content    string `gorm:"type:text"`
	UpdatedAt  time.Time
}

func (DailyLogModel) TableName() string { return "daily_logs" }
