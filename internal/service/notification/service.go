package notification

import (
	"context"
	"fmt"

	"github.com/jwalitptl/roadside-api/internal/model"
	"github.com/jwalitptl/roadside-api/internal/repository"
	"github.com/jwalitptl/roadside-api/pkg/auth"
	"github.com/jwalitptl/roadside-api/pkg/errors"
)

const (
	DefaultListLimit = 200
	MaxListLimit     = 1000
)

// Gateway is the read path for reconnecting clients. Backlogs are returned
// oldest first and include read notifications; filtering is up to the client.
type Gateway struct {
	store        repository.NotificationRepository
	auth         auth.Authenticator
	defaultLimit int
}

func NewGateway(store repository.NotificationRepository, authenticator auth.Authenticator, defaultLimit int) *Gateway {
	if defaultLimit <= 0 {
		defaultLimit = DefaultListLimit
	}
	return &Gateway{
		store:        store,
		auth:         authenticator,
		defaultLimit: defaultLimit,
	}
}

// FetchBacklog returns userID's notifications after sinceSeq. The token must
// belong to userID, or to an admin.
func (g *Gateway) FetchBacklog(ctx context.Context, userID, authToken string, sinceSeq uint64, limit int) ([]*model.Notification, error) {
	if _, err := g.authorize(ctx, userID, authToken); err != nil {
		return nil, err
	}

	switch {
	case limit <= 0:
		limit = g.defaultLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}

	notifications, err := g.store.ListFor(ctx, userID, sinceSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch backlog: %w", err)
	}
	return notifications, nil
}

func (g *Gateway) UnreadCount(ctx context.Context, userID, authToken string) (int64, error) {
	if _, err := g.authorize(ctx, userID, authToken); err != nil {
		return 0, err
	}
	return g.store.UnreadCount(ctx, userID)
}

// MarkRead flips the read flag of a notification owned by the token's user.
// Marking an already-read notification succeeds with alreadyRead set.
func (g *Gateway) MarkRead(ctx context.Context, id, authToken string) (alreadyRead bool, err error) {
	identity, err := g.identify(ctx, authToken)
	if err != nil {
		return false, err
	}

	n, err := g.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if n.RecipientID != identity.UserID {
		// Someone else's notification looks the same as a missing one.
		return false, errors.NotFound("notification", nil)
	}

	changed, err := g.store.MarkRead(ctx, id)
	if err != nil {
		return false, err
	}
	return !changed, nil
}

func (g *Gateway) identify(ctx context.Context, authToken string) (*model.Identity, error) {
	if authToken == "" {
		return nil, errors.Unauthorized(nil)
	}
	identity, err := g.auth.ValidateToken(ctx, authToken)
	if err != nil {
		return nil, errors.Unauthorized(err)
	}
	return identity, nil
}

func (g *Gateway) authorize(ctx context.Context, userID, authToken string) (*model.Identity, error) {
	identity, err := g.identify(ctx, authToken)
	if err != nil {
		return nil, err
	}
	if identity.UserID != userID && identity.Role != model.RoleAdmin {
		return nil, errors.Forbidden("cannot read another user's notifications")
	}
	return identity, nil
}
