package authcore

import "time"

// Lockout policy: pure functions over a user's failure counter and lock
// timestamp. Persistence of the mutated record is the caller's job, inside
// the same transaction as the login outcome.

func (c LockoutConfig) recordFailure(u *User, now time.Time) {
	u.FailedLoginAttempts++
	if u.FailedLoginAttempts >= c.Threshold {
		until := now.Add(c.Duration)
		u.LockedUntil = &until
	}
}

func (c LockoutConfig) recordSuccess(u *User) {
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
}

func isLocked(u *User, now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}
