package authcore

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/coursekit/authcore/cache"
	"github.com/coursekit/authcore/password"
	"github.com/coursekit/authcore/token"
)

// Engine is the authentication core. Construct it with Builder.Build; all
// methods are safe for concurrent use.
type Engine struct {
	config Config
	store  Store

	userCache *cache.UserStateCache
	throttle  *cache.LoginThrottle

	audit   *auditDispatcher
	metrics *Metrics
	hasher  *password.Argon2
	totp    *totpManager
	codec   *token.Codec

	notifier Notifier
	logger   *zap.Logger
}

// Close stops the audit dispatcher, draining queued events first.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// MetricsSnapshot returns a point-in-time copy of all counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}, Histograms: map[MetricID][]uint64{}}
	}
	return e.metrics.Snapshot()
}

// AuditDropped reports how many audit events were discarded because the
// queue was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

// normalizeEmail lowercases and trims; storage and lookup both use this
// form so duplicate detection is case-insensitive.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// hashRefreshToken is the at-rest form of a refresh token: hex SHA-256 of
// the full compact JWT.
func hashRefreshToken(tokenString string) string {
	sum := sha256.Sum256([]byte(tokenString))
	return hex.EncodeToString(sum[:])
}

func refreshHashEqual(stored, presented string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}

// sessionPlaceholderHash occupies the hash column between the insert that
// allocates the session id and the patch that stores the real hash. It can
// never match a presented token because it is not 64 hex characters of a
// real digest.
const sessionPlaceholderHash = "pending"

// createSession inserts a session row, mints the refresh token with the
// generated row id as jti, and patches the row with the token's hash. Must
// run inside the caller's transaction so a failed mint leaves nothing
// behind.
func (e *Engine) createSession(ctx context.Context, tx Store, userID int64, now time.Time) (*Session, string, error) {
	sess := &Session{
		UserID:           userID,
		RefreshTokenHash: sessionPlaceholderHash,
		UserAgent:        userAgentFromContext(ctx),
		IPAddress:        clientIPFromContext(ctx),
		ExpiresAt:        now.Add(e.codec.RefreshTTL()),
		IsActive:         true,
		CreatedAt:        now,
	}
	if err := tx.CreateSession(ctx, sess); err != nil {
		return nil, "", err
	}

	refreshToken, err := e.codec.IssueRefresh(userID, sess.ID)
	if err != nil {
		return nil, "", err
	}

	sess.RefreshTokenHash = hashRefreshToken(refreshToken)
	if err := tx.UpdateSession(ctx, sess); err != nil {
		return nil, "", err
	}

	return sess, refreshToken, nil
}

func (e *Engine) issuePair(userID int64, refreshToken string) (*TokenPair, error) {
	accessToken, err := e.codec.IssueAccess(userID, 0)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(e.codec.AccessTTL().Seconds()),
	}, nil
}

func profileFromUser(u *User, sessionCount int) *Profile {
	return &Profile{
		ID:               u.ID,
		Email:            u.Email,
		FullName:         u.FullName,
		Role:             u.Role,
		IsActive:         u.IsActive,
		EmailVerified:    u.EmailVerified,
		TwoFactorEnabled: u.TwoFactorEnabled,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
		LastLogin:        u.LastLogin,
		TotalSessions:    sessionCount,
	}
}

// invalidateUserCache drops the cached active-state entry; cache errors are
// logged and otherwise ignored.
func (e *Engine) invalidateUserCache(ctx context.Context, userID int64) {
	if e.userCache == nil {
		return
	}
	if err := e.userCache.Invalidate(ctx, userID); err != nil {
		e.logger.Warn("user cache invalidation failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// Login verifies credentials and opens a new session. The failure outcome
// (lockout counter, lock stamp) commits in the same transaction that read
// the user row, so concurrent attempts cannot lose counter updates.
func (e *Engine) Login(ctx context.Context, email, pass string) (*Profile, *TokenPair, error) {
	if e == nil {
		return nil, nil, ErrEngineNotReady
	}

	addr := clientIPFromContext(ctx)
	if e.throttle != nil {
		ok, err := e.throttle.Allow(ctx, addr)
		if err != nil {
			e.logger.Warn("login throttle unavailable", zap.Error(err))
		}
		if !ok {
			e.metricInc(MetricLoginThrottled)
			e.emitAudit(ctx, auditLoginThrottled, false, 0, 0, ErrLoginThrottled, nil)
			return nil, nil, ErrLoginThrottled
		}
	}

	normalized := normalizeEmail(email)
	now := time.Now().UTC()

	var (
		outErr    error
		profile   *Profile
		pair      *TokenPair
		userID    int64
		sessionID int64
	)

	err := e.store.WithinTx(ctx, func(tx Store) error {
		u, err := tx.GetUserByEmail(ctx, normalized)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				outErr = ErrInvalidCredentials
				return nil
			}
			return err
		}
		userID = u.ID

		if isLocked(u, now) {
			outErr = ErrAccountLocked
			return nil
		}

		if !e.hasher.Verify(pass, u.PasswordHash) {
			e.config.Lockout.recordFailure(u, now)
			if err := tx.UpdateUser(ctx, u); err != nil {
				return err
			}
			if u.LockedUntil != nil {
				outErr = ErrAccountLocked
			} else {
				outErr = ErrInvalidCredentials
			}
			return nil
		}

		if !u.IsActive {
			outErr = ErrAccountDeactivated
			return nil
		}

		e.config.Lockout.recordSuccess(u)
		u.LastLogin = &now

		if e.config.Password.UpgradeOnLogin && e.hasher.NeedsRehash(u.PasswordHash) {
			rehash, err := e.hasher.Hash(pass)
			if err != nil {
				return err
			}
			u.PasswordHash = rehash
		}

		if err := tx.UpdateUser(ctx, u); err != nil {
			return err
		}

		sess, refreshToken, err := e.createSession(ctx, tx, u.ID, now)
		if err != nil {
			return err
		}
		sessionID = sess.ID

		pair, err = e.issuePair(u.ID, refreshToken)
		if err != nil {
			return err
		}

		count, err := tx.CountValidSessions(ctx, u.ID, now)
		if err != nil {
			return err
		}
		profile = profileFromUser(u, count)

		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if outErr != nil {
		switch {
		case errors.Is(outErr, ErrAccountLocked):
			e.metricInc(MetricLoginLocked)
			e.emitAudit(ctx, auditLoginLocked, false, userID, 0, outErr, nil)
		default:
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditLoginFailure, false, userID, 0, outErr, nil)
		}
		return nil, nil, outErr
	}

	if e.throttle != nil {
		if err := e.throttle.Reset(ctx, addr); err != nil {
			e.logger.Warn("login throttle reset failed", zap.Error(err))
		}
	}
	e.invalidateUserCache(ctx, userID)

	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditLoginSuccess, true, userID, sessionID, nil, nil)

	return profile, pair, nil
}

// RefreshAccessToken redeems a refresh token for a fresh access token. The
// refresh token itself is not rotated: the session row and its hash stay
// untouched until expiry or revocation.
func (e *Engine) RefreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}

	fail := func(userID, sessionID int64, cause error) (string, error) {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditRefreshInvalid, false, userID, sessionID, cause, nil)
		return "", cause
	}

	claims, err := e.codec.Decode(refreshToken)
	if err != nil {
		return fail(0, 0, ErrInvalidRefreshToken)
	}
	if err := e.codec.ExpectType(claims, token.TypeRefresh); err != nil {
		return fail(0, 0, ErrInvalidRefreshToken)
	}
	userID, err := claims.UserID()
	if err != nil {
		return fail(0, 0, ErrInvalidRefreshToken)
	}
	sessionID, err := claims.SessionID()
	if err != nil {
		return fail(userID, 0, ErrInvalidRefreshToken)
	}

	now := time.Now().UTC()
	presented := hashRefreshToken(refreshToken)

	var outErr error

	err = e.store.WithinTx(ctx, func(tx Store) error {
		sess, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				outErr = ErrInvalidRefreshToken
				return nil
			}
			return err
		}

		if sess.UserID != userID || !sess.Valid(now) || !refreshHashEqual(sess.RefreshTokenHash, presented) {
			outErr = ErrInvalidRefreshToken
			return nil
		}

		u, err := tx.GetUserByID(ctx, userID)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				outErr = ErrInvalidRefreshToken
				return nil
			}
			return err
		}
		if !u.IsActive {
			outErr = ErrUserInactive
			return nil
		}

		// Metadata refresh is last-writer-wins under concurrent redeems.
		sess.UserAgent = userAgentFromContext(ctx)
		sess.IPAddress = clientIPFromContext(ctx)
		return tx.UpdateSession(ctx, sess)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if outErr != nil {
		return fail(userID, sessionID, outErr)
	}

	accessToken, err := e.codec.IssueAccess(userID, 0)
	if err != nil {
		return "", err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditRefreshSuccess, true, userID, sessionID, nil, nil)

	return accessToken, nil
}

// VerifyAccessToken validates an access token and confirms the subject
// still exists and is active, returning the user id. This is the request
// hot path; when the cache is enabled the user-state read usually skips the
// store entirely.
func (e *Engine) VerifyAccessToken(ctx context.Context, accessToken string) (int64, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}

	start := time.Now()
	defer func() {
		e.metrics.Observe(MetricVerifyLatency, time.Since(start))
	}()

	fail := func(userID int64, cause error) (int64, error) {
		e.metricInc(MetricVerifyFailure)
		e.emitAudit(ctx, auditVerifyFailure, false, userID, 0, cause, nil)
		return 0, cause
	}

	claims, err := e.codec.Decode(accessToken)
	if err != nil {
		return fail(0, ErrInvalidAccessToken)
	}
	if err := e.codec.ExpectType(claims, token.TypeAccess); err != nil {
		return fail(0, ErrInvalidAccessToken)
	}
	userID, err := claims.UserID()
	if err != nil {
		return fail(0, ErrInvalidAccessToken)
	}

	state, found := e.cachedUserState(ctx, userID)
	if !found {
		u, err := e.store.GetUserByID(ctx, userID)
		switch {
		case errors.Is(err, ErrUserNotFound):
			state = cache.UserState{Exists: false}
		case err != nil:
			return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		default:
			state = cache.UserState{Exists: true, Active: u.IsActive}
		}
		e.storeUserState(ctx, userID, state)
	}

	if !state.Exists || !state.Active {
		return fail(userID, ErrInvalidAccessToken)
	}

	e.metricInc(MetricVerifySuccess)
	return userID, nil
}

func (e *Engine) cachedUserState(ctx context.Context, userID int64) (cache.UserState, bool) {
	if e.userCache == nil {
		return cache.UserState{}, false
	}
	state, found, err := e.userCache.Get(ctx, userID)
	if err != nil {
		e.logger.Warn("user cache read failed", zap.Int64("user_id", userID), zap.Error(err))
		return cache.UserState{}, false
	}
	return state, found
}

func (e *Engine) storeUserState(ctx context.Context, userID int64, state cache.UserState) {
	if e.userCache == nil {
		return
	}
	if err := e.userCache.Set(ctx, userID, state); err != nil {
		e.logger.Warn("user cache write failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// Logout revokes the presented session, or every active session for the
// user when revokeAll is set.
func (e *Engine) Logout(ctx context.Context, userID, sessionID int64, revokeAll bool) error {
	if e == nil {
		return ErrEngineNotReady
	}

	now := time.Now().UTC()

	if revokeAll {
		if err := e.store.RevokeAllSessions(ctx, userID, now); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		e.invalidateUserCache(ctx, userID)
		e.metricInc(MetricLogoutAll)
		e.emitAudit(ctx, auditLogoutAll, true, userID, 0, nil, nil)
		return nil
	}

	err := e.store.RevokeSession(ctx, userID, sessionID, now)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditLogoutSession, true, userID, sessionID, nil, nil)
	return nil
}

// CleanupExpiredSessions deletes sessions whose expiry has passed and
// returns the number removed. Intended to run from a periodic job.
func (e *Engine) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}

	removed, err := e.store.DeleteExpiredSessions(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if removed > 0 {
		e.metricInc(MetricSessionsCleaned)
		e.emitAudit(ctx, auditSessionsCleaned, true, 0, 0, nil, func() map[string]string {
			return map[string]string{"removed": fmt.Sprintf("%d", removed)}
		})
	}

	return removed, nil
}
