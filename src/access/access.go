/*
Package access evaluates tunnel access control lists. Given an ordered
ACL, a requesting subject's identity attributes and a requested scope,
it decides ALLOW or DENY.

Evaluation is pure and synchronous: no I/O, no shared state, safe to
call concurrently. The two subject kinds that need an external
authority (repository access, IP service tags) are modeled as injected
capabilities on the Subject; when a capability is absent those entries
never match, so the evaluator fails closed.
*/
package access

import (
	"net/netip"
	"strings"

	"golang.org/x/crypto/ssh"

	"aquaduct.dev/sluice/types"
)

// RepositoryAuthority answers whether the subject has access to a
// repository. Resolution is delegated: the control plane does not talk
// to repository providers itself.
type RepositoryAuthority interface {
	HasRepositoryAccess(provider, repository string) bool
}

// IPRangeAuthority expands non-CIDR IP range subjects (service tags)
// and answers containment for them. CIDR subjects are checked
// directly by the evaluator.
type IPRangeAuthority interface {
	TagContains(tag string, ip netip.Addr) bool
}

// Subject describes a requester's claimed identity attributes.
type Subject struct {
	// IsAnonymous marks an unauthenticated requester. Anonymous
	// subjects match only Anonymous entries.
	IsAnonymous bool

	// UserID is the authenticated user's identity.
	UserID string

	// Groups lists the group IDs the subject belongs to.
	Groups []string

	// Organizations lists the organization IDs the subject belongs to.
	Organizations []string

	// KeyFingerprints lists SHA256 fingerprints of the public keys the
	// subject authenticated with.
	KeyFingerprints []string

	// SourceIP is the requester's source address. The zero Addr means
	// unknown; IPAddressRanges entries then never match.
	SourceIP netip.Addr

	// Repositories resolves Repositories entries. Nil fails closed.
	Repositories RepositoryAuthority

	// IPRanges resolves service-tag subjects of IPAddressRanges
	// entries. Nil fails closed for non-CIDR subjects.
	IPRanges IPRangeAuthority
}

// InOrganization reports whether the subject belongs to the given
// organization.
func (s *Subject) InOrganization(org string) bool {
	return contains(s.Organizations, org)
}

// KeyFingerprint normalizes an SSH public key in authorized-keys
// format to its SHA256 fingerprint. Input that is already a
// fingerprint (or anything unparsable) is returned unchanged, so ACL
// subjects may list either form.
func KeyFingerprint(key string) string {
	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key))
	if err != nil {
		return key
	}
	return ssh.FingerprintSHA256(pub)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, s := range a {
		if contains(b, s) {
			return true
		}
	}
	return false
}

// entryMatches applies one entry's subject rule to a subject. The
// entry's scope filter and expiration are the caller's concern.
//
// Inversion applies to subject membership only; an anonymous subject
// never matches a non-Anonymous entry, inverse or not, so inverse
// entries cannot accidentally grant anonymous access.
func entryMatches(e *types.TunnelAccessControlEntry, s *Subject) bool {
	if e.Type == types.EntryTypeAnonymous {
		if e.IsInverse {
			return !s.IsAnonymous
		}
		return true
	}

	if s.IsAnonymous {
		return false
	}
	if e.Organization != "" && !s.InOrganization(e.Organization) {
		return false
	}

	var matched bool
	switch e.Type {
	case types.EntryTypeUsers:
		matched = s.UserID != "" && contains(e.Subjects, s.UserID)
	case types.EntryTypeGroups:
		matched = intersects(s.Groups, e.Subjects)
	case types.EntryTypeOrganizations:
		matched = intersects(s.Organizations, e.Subjects)
	case types.EntryTypeRepositories:
		matched = s.Repositories != nil && anyRepositoryAccess(e, s.Repositories)
	case types.EntryTypePublicKeys:
		matched = matchPublicKeys(e.Subjects, s.KeyFingerprints)
	case types.EntryTypeIPAddressRanges:
		matched = matchIPRanges(e.Subjects, s)
	default:
		// Unrecognized entry types (including None) never match, so a
		// malformed ACL fails closed instead of raising.
		return false
	}

	if e.IsInverse {
		return !matched
	}
	return matched
}

func anyRepositoryAccess(e *types.TunnelAccessControlEntry, authority RepositoryAuthority) bool {
	for _, repo := range e.Subjects {
		if authority.HasRepositoryAccess(e.Provider, repo) {
			return true
		}
	}
	return false
}

func matchPublicKeys(subjects, fingerprints []string) bool {
	for _, subj := range subjects {
		if contains(fingerprints, KeyFingerprint(subj)) {
			return true
		}
	}
	return false
}

// matchIPRanges checks the subject's source IP against each listed
// range. Subjects containing "/" are CIDR prefixes; anything else is a
// service tag resolved through the injected authority.
func matchIPRanges(subjects []string, s *Subject) bool {
	if !s.SourceIP.IsValid() {
		return false
	}
	ip := s.SourceIP.Unmap()
	for _, subj := range subjects {
		if strings.Contains(subj, "/") {
			prefix, err := netip.ParsePrefix(subj)
			if err != nil {
				continue
			}
			if prefix.Contains(ip) {
				return true
			}
			continue
		}
		if s.IPRanges != nil && s.IPRanges.TagContains(subj, ip) {
			return true
		}
	}
	return false
}
