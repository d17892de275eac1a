// Package store defines the persistence contracts the OAuth flow depends on,
// plus two implementations: a mutex-guarded in-memory store and a SQLite
// store. Production backends (DynamoDB and friends) are expected to satisfy
// the same interfaces.
//
// Both contracts carry atomicity requirements that implementations must
// uphold under concurrent callers:
//
//   - StateStore.Consume is a linearizable check-and-delete: given one stored
//     token and any number of racing Consume calls, exactly one succeeds.
//   - InstallationStore.Save is an upsert keyed by (team_id, enterprise_id);
//     a record is never partially written.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable means the backing store could not be reached. Callers may
// retry; logical outcomes (token absent, already consumed) are not errors.
var ErrUnavailable = errors.New("store unavailable")

// Installation is one workspace's granted access after a completed OAuth
// exchange. Uniquely keyed by (TeamID, EnterpriseID-or-empty).
type Installation struct {
	TeamID       string
	EnterpriseID string
	BotToken     string
	BotUserID    string
	UserToken    string
	UserID       string
	Scopes       []string
	InstalledAt  time.Time
}

// OAuthState is a single-use CSRF token parked between install-URL generation
// and the authorization callback.
type OAuthState struct {
	State       string
	RedirectURI string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// StateStore persists pending OAuth state tokens.
type StateStore interface {
	// Put stores a state token with its expiry.
	Put(ctx context.Context, state OAuthState) error

	// Consume atomically checks and deletes a token. It returns true only if
	// the token existed, was unexpired, and had not already been consumed.
	Consume(ctx context.Context, state string) (bool, error)
}

// InstallationStore persists workspace installations.
type InstallationStore interface {
	// Save upserts an installation under its composite team key.
	Save(ctx context.Context, inst *Installation) error

	// Find returns the installation for a team, or nil if none exists.
	Find(ctx context.Context, teamID, enterpriseID string) (*Installation, error)

	// Delete removes a team's installation. Deleting a missing record is not
	// an error.
	Delete(ctx context.Context, teamID, enterpriseID string) error
}
