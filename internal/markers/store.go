package markers

import (
	"context"
	"errors"
	"sort"
	"time"
)

var ErrInvalidArgument = errors.New("markers: invalid argument")

// Store is the per-user marker registry.
//
// Implementations must make ClaimPrimary a true compare-and-set: it
// succeeds only when no primary exists for the user, atomically. A
// read-then-write implementation is incorrect; two lines observing "no
// primary" concurrently would both claim it and bridge two calls to one
// agent.
type Store interface {
	// ClaimPrimary atomically installs m as the user's primary call if and
	// only if no primary exists. Returns false when a primary is already
	// present.
	ClaimPrimary(ctx context.Context, userID string, m PrimaryCall) (bool, error)
	GetPrimary(ctx context.Context, userID string) (PrimaryCall, bool, error)
	// ClearPrimary removes the primary marker. When callID is non-empty the
	// delete only applies if the current marker references that call, so a
	// late callback for an old call cannot clear a newer primary.
	ClearPrimary(ctx context.Context, userID, callID string) (bool, error)
	// MarkPrimaryBridged flips InConference on the current primary if it
	// still references callID.
	MarkPrimaryBridged(ctx context.Context, userID, callID string) error

	PutSecondary(ctx context.Context, userID string, m SecondaryCall) error
	GetSecondary(ctx context.Context, userID, lineID string) (SecondaryCall, bool, error)
	DeleteSecondary(ctx context.Context, userID, lineID string) error
	ListSecondaries(ctx context.Context, userID string) ([]SecondaryCall, error)

	PutConference(ctx context.Context, userID string, d Conference, ttl time.Duration) error
	GetConference(ctx context.Context, userID string) (Conference, bool, error)
	DeleteConference(ctx context.Context, userID string) error

	// ClearUser removes every marker (primary, secondaries, conference) for
	// the user. Used by the session-end cleanup path; must be idempotent.
	ClearUser(ctx context.Context, userID string) error

	// MarkEventSeen records a webhook event key and reports whether it was
	// seen for the first time. Duplicate provider deliveries use this to
	// no-op.
	MarkEventSeen(ctx context.Context, userID, eventKey string, ttl time.Duration) (bool, error)
}

// SortByLine orders secondary markers by ascending line index. Promotion
// scans depend on this being deterministic.
func SortByLine(list []SecondaryCall) {
	sort.Slice(list, func(i, j int) bool {
		return LineIndex(list[i].LineID) < LineIndex(list[j].LineID)
	})
}
