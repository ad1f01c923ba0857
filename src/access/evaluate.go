package access

import (
	"time"

	"aquaduct.dev/sluice/types"
)

// Decision is the outcome of an access control evaluation.
type Decision int

const (
	// Deny means the requested scope is not granted.
	Deny Decision = iota

	// Allow means the requested scope is granted.
	Allow
)

// String returns "allow" or "deny".
func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// DenyReason describes why an evaluation was denied.
type DenyReason int

const (
	// ReasonNoMatch means no allow entry matched the subject and
	// scope (implicit default deny).
	ReasonNoMatch DenyReason = iota

	// ReasonDenied means a matching deny entry fired. A deny entry
	// overrides any allow entry regardless of list position.
	ReasonDenied
)

// String returns a human-readable reason.
func (r DenyReason) String() string {
	switch r {
	case ReasonNoMatch:
		return "no matching allow entry"
	case ReasonDenied:
		return "explicit deny entry"
	default:
		return "unknown"
	}
}

// Result describes the outcome of an evaluation, including which
// entries fired. The trace supports the acl check command and audit
// logging.
type Result struct {
	// Decision is Allow or Deny.
	Decision Decision

	// Reason describes why the check was denied. Only meaningful when
	// Decision is Deny.
	Reason DenyReason

	// MatchedAllow is the last allow entry that matched, if any.
	MatchedAllow *types.TunnelAccessControlEntry

	// MatchedDeny is the last deny entry that matched, if any. Set
	// only when Reason is ReasonDenied.
	MatchedDeny *types.TunnelAccessControlEntry
}

// Evaluate decides whether the subject is granted the requested scope
// by the ACL. It never returns an error: malformed entries simply
// never match.
//
// Evaluation order (the partition, not raw list order, is
// authoritative):
//  1. Only entries whose scopes contain the requested scope apply; an
//     entry with no scopes applies to all scopes.
//  2. Allow entries are evaluated in list order; the last match gives
//     a provisional ALLOW.
//  3. Deny entries are evaluated in list order; the last match
//     overrides the result to DENY.
//  4. No matching allow entry means DENY.
func Evaluate(acl types.TunnelAccessControl, subject Subject, scope string) Result {
	return EvaluateAt(acl, subject, scope, time.Now())
}

// EvaluateAt is like Evaluate but takes an explicit time for entry
// expiration checks. This supports deterministic testing.
func EvaluateAt(acl types.TunnelAccessControl, subject Subject, scope string, now time.Time) Result {
	var matchedAllow, matchedDeny *types.TunnelAccessControlEntry

	for i := range acl.Entries {
		e := &acl.Entries[i]
		if e.IsDeny || !entryApplies(e, scope, now) {
			continue
		}
		if entryMatches(e, &subject) {
			matchedAllow = e
		}
	}

	for i := range acl.Entries {
		e := &acl.Entries[i]
		if !e.IsDeny || !entryApplies(e, scope, now) {
			continue
		}
		if entryMatches(e, &subject) {
			matchedDeny = e
		}
	}

	if matchedDeny != nil {
		return Result{
			Decision:     Deny,
			Reason:       ReasonDenied,
			MatchedAllow: matchedAllow,
			MatchedDeny:  matchedDeny,
		}
	}
	if matchedAllow == nil {
		return Result{Decision: Deny, Reason: ReasonNoMatch}
	}
	return Result{Decision: Allow, MatchedAllow: matchedAllow}
}

// IsAllowed is the plain-boolean form of Evaluate.
func IsAllowed(acl types.TunnelAccessControl, subject Subject, scope string) bool {
	return Evaluate(acl, subject, scope).Decision == Allow
}

// entryApplies reports whether an entry participates in the evaluation
// of the requested scope at the given time. Expired entries never
// apply, on either the allow or the deny side.
func entryApplies(e *types.TunnelAccessControlEntry, scope string, now time.Time) bool {
	if e.Expiration != nil && !now.Before(*e.Expiration) {
		return false
	}
	if len(e.Scopes) == 0 {
		return true
	}
	return contains(e.Scopes, scope)
}
