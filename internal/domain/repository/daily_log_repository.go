package repository

import "context"

// DailyLogRepository serves today's running notes for an identity, folded
// into the system prompt's daily-log block. An empty string (not an
// error) means there is nothing logged yet today.
type DailyLogRepository interface {
	TodayFor(ctx context.Context, identityID string) (string, error)
}
