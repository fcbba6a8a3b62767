package repository

import (
	"context"

	"github.com/relaycore/relay/internal/domain/entity"
)

// SpecialRoleRepository looks up whether a (channel_type, user_id) pair
// has been granted a special role, widening its safe-mode tool config.
type SpecialRoleRepository interface {
	FindGrant(ctx context.Context, channelType entity.ChannelType, externalUserID string) (*entity.SpecialRoleGrant, error)
}
