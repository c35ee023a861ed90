package alerts

import (
	"context"
	"time"
)

// RuleVersion is a stored, immutable rule document.
type RuleVersion struct {
	RuleID    string
	Version   int
	Document  []byte
	CreatedAt time.Time
}

// RuleVersionRepository loads rule versions.
// GetVersion returns nil, nil when the version does not exist.
type RuleVersionRepository interface {
	GetVersion(ctx context.Context, ruleID string, version int) (*RuleVersion, error)
}
