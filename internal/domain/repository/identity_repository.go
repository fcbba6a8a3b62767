package repository

import (
	"context"

	"github.com/relaycore/relay/internal/domain/entity"
)

// IdentityRepository resolves and creates the durable per-channel user
// identity the dispatch pipeline keys sessions, memories, and special-role
// grants against.
type IdentityRepository interface {
	// FindByChannelUser looks up an existing identity by its natural key.
	// Returns nil, nil when no row exists yet.
	FindByChannelUser(ctx context.Context, channelType entity.ChannelType, externalUserID string) (*entity.Identity, error)

	// Create persists a brand-new identity and assigns its ID.
	Create(ctx context.Context, identity *entity.Identity) error
}
