package access

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"strings"

	"github.com/tidwall/jsonc"

	"aquaduct.dev/sluice/types"
)

// knownEntryTypes are the entry types the evaluator can match.
var knownEntryTypes = []types.TunnelAccessControlEntryType{
	types.EntryTypeNone,
	types.EntryTypeAnonymous,
	types.EntryTypeUsers,
	types.EntryTypeGroups,
	types.EntryTypeOrganizations,
	types.EntryTypeRepositories,
	types.EntryTypePublicKeys,
	types.EntryTypeIPAddressRanges,
}

// ParsePolicy strips JSONC comments and trailing commas from data,
// then unmarshals the result into an access control list. Policy files
// on disk are authored as JSONC; the wire format stays plain JSON.
func ParsePolicy(data []byte) (*types.TunnelAccessControl, error) {
	stripped := jsonc.ToJSON(data)

	var acl types.TunnelAccessControl
	if err := json.Unmarshal(stripped, &acl); err != nil {
		return nil, fmt.Errorf("parsing policy: %w", err)
	}
	for i := range acl.Entries {
		if acl.Entries[i].Subjects == nil {
			acl.Entries[i].Subjects = []string{}
		}
		if acl.Entries[i].Scopes == nil {
			acl.Entries[i].Scopes = []string{}
		}
	}
	return &acl, nil
}

// ReadPolicyFile reads a JSONC policy file from disk and parses it
// into an access control list.
func ReadPolicyFile(path string) (*types.TunnelAccessControl, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	acl, err := ParsePolicy(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return acl, nil
}

// ValidateACL lints an access control list: every entry must have a
// recognized type, scopes from the closed vocabulary, and parsable
// CIDR subjects on IPAddressRanges entries. The evaluator itself
// tolerates malformed entries (they never match); this check exists so
// authors find out before deploying a policy that silently denies.
func ValidateACL(acl *types.TunnelAccessControl) error {
	for i := range acl.Entries {
		e := &acl.Entries[i]

		typeKnown := false
		for _, t := range knownEntryTypes {
			if e.Type == t {
				typeKnown = true
				break
			}
		}
		if !typeKnown {
			return &ArgumentError{Name: fmt.Sprintf("entries[%d].type", i), Message: "unrecognized entry type", Value: string(e.Type)}
		}

		if err := ValidateScopes(e.Scopes, nil, false); err != nil {
			return fmt.Errorf("entries[%d]: %w", i, err)
		}

		if e.Type == types.EntryTypeIPAddressRanges {
			for _, subj := range e.Subjects {
				if !strings.Contains(subj, "/") {
					continue // service tag, resolved externally
				}
				if _, err := netip.ParsePrefix(subj); err != nil {
					return &ArgumentError{Name: fmt.Sprintf("entries[%d].subjects", i), Message: "invalid CIDR range", Value: subj}
				}
			}
		}
	}
	return nil
}
