package policy

import (
	"fmt"
	"time"

	"github.com/systmms/costguardian/internal/discovery"
)

const (
	// RotateAfter is the maximum age of an active key before it is rotated.
	RotateAfter = 30 * 24 * time.Hour

	// DeactivateAfter is the maximum inactivity of an active key before it
	// is deactivated without replacement.
	DeactivateAfter = 60 * 24 * time.Hour

	// MaxKeysPerUser is the hard cap IAM enforces per user. Rotation cannot
	// create a third key.
	MaxKeysPerUser = 2
)

// CredentialAction is what the lifecycle policy wants done with one key.
type CredentialAction string

const (
	// ActionNone leaves the key untouched.
	ActionNone CredentialAction = "none"

	// ActionRotate issues a replacement key, persists it, then deactivates
	// this key.
	ActionRotate CredentialAction = "rotate"

	// ActionDeactivate retires this key without issuing a replacement.
	ActionDeactivate CredentialAction = "deactivate"

	// ActionDeactivateStale retires this key because rotation is blocked by
	// the key cap but a newer active key already preserves access.
	ActionDeactivateStale CredentialAction = "deactivate-stale"

	// ActionBlocked means rotation is due but the key cap prevents it and
	// no newer active key exists, so nothing safe can be done.
	ActionBlocked CredentialAction = "blocked"
)

// CredentialDecision is the outcome of evaluating one key against its
// owner's full key set.
type CredentialDecision struct {
	Action CredentialAction
	Reason string
}

// LastActivity returns the key's last-used timestamp, or its creation time
// when it has never been used. A never-used key's "activity" is its creation.
func LastActivity(c discovery.Credential) time.Time {
	if c.LastUsed != nil {
		return *c.LastUsed
	}
	return c.CreateDate
}

// EvaluateCredential applies the lifecycle rules to a single key. Rotation
// (age over RotateAfter) takes precedence over inactivity deactivation: a key
// old enough to satisfy both is rotated, because rotation both retires the
// stale secret and preserves access continuity. Confirmed policy choice, not
// an accident of evaluation order.
//
// The owner's full key set is part of the input because IAM's two-key cap
// can block rotation: with the cap reached, the stale key is deactivated
// only when a fresh active replacement already exists for the user.
func EvaluateCredential(c discovery.Credential, owner discovery.Principal, now time.Time) CredentialDecision {
	if !c.IsActive() {
		return CredentialDecision{Action: ActionNone, Reason: "credential already inactive"}
	}

	age := now.Sub(c.CreateDate)
	if age > RotateAfter {
		if len(owner.Credentials) >= MaxKeysPerUser {
			if hasFreshActiveReplacement(c, owner, now) {
				return CredentialDecision{
					Action: ActionDeactivateStale,
					Reason: fmt.Sprintf("key cap of %d reached; a fresh active replacement exists, deactivating stale key without issuing another", MaxKeysPerUser),
				}
			}
			return CredentialDecision{
				Action: ActionBlocked,
				Reason: fmt.Sprintf("rotation due (age %s) but user already holds %d keys and none is a fresh active replacement", age.Round(time.Hour), MaxKeysPerUser),
			}
		}
		return CredentialDecision{
			Action: ActionRotate,
			Reason: fmt.Sprintf("key age %s exceeds the %s rotation limit", age.Round(time.Hour), RotateAfter),
		}
	}

	inactivity := now.Sub(LastActivity(c))
	if inactivity > DeactivateAfter {
		return CredentialDecision{
			Action: ActionDeactivate,
			Reason: fmt.Sprintf("no activity for %s, over the %s limit", inactivity.Round(time.Hour), DeactivateAfter),
		}
	}

	return CredentialDecision{Action: ActionNone, Reason: "within age and activity thresholds"}
}

// hasFreshActiveReplacement reports whether the owner holds an active key
// created after the given key that is itself within the rotation threshold.
// Only such a key counts as a replacement: it came from an earlier rotation,
// so its material is in the secret store. A newer-but-also-stale key is no
// basis for retiring this one, since the user could end up with nothing but
// keys whose material was never persisted.
func hasFreshActiveReplacement(c discovery.Credential, owner discovery.Principal, now time.Time) bool {
	for _, other := range owner.Credentials {
		if other.ID == c.ID {
			continue
		}
		if other.IsActive() && other.CreateDate.After(c.CreateDate) && now.Sub(other.CreateDate) <= RotateAfter {
			return true
		}
	}
	return false
}
