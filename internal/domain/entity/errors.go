package entity

import "errors"

var (
	// Agent errors
	ErrInvalidAgentID      = errors.New("invalid agent id")
	ErrInvalidAgentName    = errors.New("invalid agent name")
	ErrSkillAlreadyExists  = errors.New("skill already exists")
	ErrSkillNotFound       = errors.New("skill not found")

	// Message errors
	ErrInvalidMessageID      = errors.New("invalid message id")
	ErrInvalidConversationID = errors.New("invalid conversation id")

	// Skill errors
	ErrInvalidSkillID   = errors.New("invalid skill id")
	ErrInvalidSkillName = errors.New("invalid skill name")

	// Conversation errors
	ErrInvalidChannelID = errors.New("invalid channel id")

	// Dispatch / session errors
	ErrIdentityResolution = errors.New("failed to resolve user identity")
	ErrSessionResolution  = errors.New("failed to resolve chat session")
	ErrAgentSettingsMissing = errors.New("no agent settings configured for channel")
	ErrAIClientBuild      = errors.New("failed to build AI client")

	// Orchestrator errors
	ErrNoActiveSubtype    = errors.New("no subtype active: call set_agent_subtype first")
	ErrToolNotInToolset   = errors.New("tool not reachable in current context")
	ErrSkillNotAllowed    = errors.New("skill not allowed in current subtype")
	ErrUnknownSubtype     = errors.New("unknown subtype")
)
