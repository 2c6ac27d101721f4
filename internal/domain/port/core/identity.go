package core

import "context"

// CurrentUserProvider resolves the acting user for audit stamping. The
// coordinator must work when no provider is wired; in that case the user id
// is treated as absent.
type CurrentUserProvider interface {
	// CurrentUserID returns the id of the acting user and whether one could
	// be resolved from the given context
	CurrentUserID(ctx context.Context) (string, bool)
}
