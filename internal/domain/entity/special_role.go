package entity

// SpecialRoleGrant assigns a named role to one (channel_type, user_id)
// pair, widening the safe-mode tool config with extra tools/skills beyond
// the canonical safe-mode profile. Granting is per-identity, not per-role
// definition, so the same role name can carry different grants if ever
// needed — in practice every grant of a given role name carries the same
// extras.
type SpecialRoleGrant struct {
	ID             int64
	ChannelType    ChannelType
	ExternalUserID string
	RoleName       string
	ExtraTools     []string
	ExtraSkills    []string
}
