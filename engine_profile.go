package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// GetProfile returns the caller-facing view of a user, including the live
// count of valid sessions.
func (e *Engine) GetProfile(ctx context.Context, userID int64) (*Profile, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	u, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	count, err := e.store.CountValidSessions(ctx, userID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return profileFromUser(u, count), nil
}

// ListSessions returns every session row for the user, newest first,
// stripped of refresh hashes.
func (e *Engine) ListSessions(ctx context.Context, userID int64) ([]SessionInfo, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	sessions, err := e.store.ListSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, SessionInfo{
			ID:        s.ID,
			UserAgent: s.UserAgent,
			IPAddress: s.IPAddress,
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
			IsActive:  s.IsActive,
			RevokedAt: s.RevokedAt,
		})
	}

	return infos, nil
}

// RevokeSession revokes one of the user's sessions by id, for "sign out
// that device" surfaces. Revoking a session that is not the user's own
// fails with ErrSessionNotFound.
func (e *Engine) RevokeSession(ctx context.Context, userID, sessionID int64) error {
	if e == nil {
		return ErrEngineNotReady
	}

	err := e.store.RevokeSession(ctx, userID, sessionID, time.Now().UTC())
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditSessionRevoked, true, userID, sessionID, nil, nil)

	return nil
}
