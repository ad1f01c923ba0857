/*
Package types defines the wire contract for the Sluice control plane:
tunnels, ports, endpoints, access control entries, and the error shape
returned by the REST API. All JSON field names are camelCase; optional
fields are omitted when empty.
*/
package types

import "time"

// TunnelProtocol values accepted for a tunnel port.
const (
	ProtocolAuto  = "auto"
	ProtocolTCP   = "tcp"
	ProtocolUDP   = "udp"
	ProtocolHTTP  = "http"
	ProtocolHTTPS = "https"
	ProtocolSSH   = "ssh"
	ProtocolRDP   = "rdp"
)

// Access scopes. This is a closed vocabulary: any other scope string is
// invalid wherever scopes are validated.
const (
	ScopeCreate      = "create"
	ScopeManage      = "manage"
	ScopeManagePorts = "manage:ports"
	ScopeHost        = "host"
	ScopeInspect     = "inspect"
	ScopeConnect     = "connect"
)

// AllScopes lists every valid access scope.
var AllScopes = []string{
	ScopeCreate,
	ScopeManage,
	ScopeManagePorts,
	ScopeHost,
	ScopeInspect,
	ScopeConnect,
}

// TunnelAccessControlEntryType selects how an access control entry's
// subjects are interpreted.
type TunnelAccessControlEntryType string

const (
	EntryTypeNone            TunnelAccessControlEntryType = "None"
	EntryTypeAnonymous       TunnelAccessControlEntryType = "Anonymous"
	EntryTypeUsers           TunnelAccessControlEntryType = "Users"
	EntryTypeGroups          TunnelAccessControlEntryType = "Groups"
	EntryTypeOrganizations   TunnelAccessControlEntryType = "Organizations"
	EntryTypeRepositories    TunnelAccessControlEntryType = "Repositories"
	EntryTypePublicKeys      TunnelAccessControlEntryType = "PublicKeys"
	EntryTypeIPAddressRanges TunnelAccessControlEntryType = "IPAddressRanges"
)

// TunnelAccessControlEntry is one rule in an access control list. An
// entry either grants (IsDeny false) or denies (IsDeny true) its Scopes
// to the requesters described by Type, Provider and Subjects.
type TunnelAccessControlEntry struct {
	// Type selects the subject kind (users, groups, IP ranges, ...).
	Type TunnelAccessControlEntryType `json:"type"`

	// Provider optionally names the identity provider the subjects
	// belong to. Its interpretation depends on Type.
	Provider string `json:"provider,omitempty"`

	// IsInherited marks an entry a port inherited from its parent
	// tunnel's access control list.
	IsInherited bool `json:"isInherited,omitempty"`

	// IsDeny makes the entry a denial instead of a grant. A matching
	// deny entry always overrides any matching allow entry.
	IsDeny bool `json:"isDeny,omitempty"`

	// IsInverse inverts subject matching: the entry matches requesters
	// whose identity is NOT in Subjects. An inverse Anonymous entry
	// matches any authenticated requester.
	IsInverse bool `json:"isInverse,omitempty"`

	// Organization optionally scopes the entry to members of one
	// organization. When set, a requester must be a member of that
	// organization in addition to the type-specific subject match.
	Organization string `json:"organization,omitempty"`

	// Subjects lists the identities the entry applies to. Meaning
	// depends on Type and Provider. Never nil.
	Subjects []string `json:"subjects"`

	// Scopes lists the access scopes the entry grants or denies. An
	// entry with no scopes applies to all scopes. Never nil.
	Scopes []string `json:"scopes"`

	// Expiration optionally bounds the entry's lifetime. An expired
	// entry never matches.
	Expiration *time.Time `json:"expiration,omitempty"`
}

// NewTunnelAccessControlEntry builds an entry with Subjects and Scopes
// defaulted to empty slices rather than nil.
func NewTunnelAccessControlEntry(entryType TunnelAccessControlEntryType, subjects, scopes []string) TunnelAccessControlEntry {
	if subjects == nil {
		subjects = []string{}
	}
	if scopes == nil {
		scopes = []string{}
	}
	return TunnelAccessControlEntry{
		Type:     entryType,
		Subjects: subjects,
		Scopes:   scopes,
	}
}

// TunnelAccessControl is an ordered list of access control entries.
// Order is semantically significant: within the allow and deny
// partitions the last matching entry wins.
type TunnelAccessControl struct {
	Entries []TunnelAccessControlEntry `json:"entries"`
}

// InheritAccessControl produces the effective access control list for a
// port: the parent tunnel's entries first, marked inherited, followed
// by the port's own entries. An inherited deny entry can never be
// overridden by a port-level allow entry, since deny entries always win
// regardless of position.
func InheritAccessControl(tunnelACL, portACL TunnelAccessControl) TunnelAccessControl {
	merged := TunnelAccessControl{Entries: make([]TunnelAccessControlEntry, 0, len(tunnelACL.Entries)+len(portACL.Entries))}
	for _, e := range tunnelACL.Entries {
		e.IsInherited = true
		merged.Entries = append(merged.Entries, e)
	}
	merged.Entries = append(merged.Entries, portACL.Entries...)
	return merged
}

// TunnelOptions carries behavioral settings for a tunnel.
type TunnelOptions struct {
	// ConnectionModes lists connection modes in preference order.
	ConnectionModes []TunnelConnectionMode `json:"connectionModes,omitempty"`

	// IsGloballyAvailable exposes the tunnel outside its cluster.
	IsGloballyAvailable bool `json:"isGloballyAvailable,omitempty"`
}

// TunnelStatus is the control plane's view of a tunnel's activity.
type TunnelStatus struct {
	HostConnectionCount   int        `json:"hostConnectionCount,omitempty"`
	ClientConnectionCount int        `json:"clientConnectionCount,omitempty"`
	LastHostConnectedAt   *time.Time `json:"lastHostConnectedAt,omitempty"`
	LastClientConnectedAt *time.Time `json:"lastClientConnectedAt,omitempty"`
}

// TunnelPortStatus is the control plane's view of a port's activity.
type TunnelPortStatus struct {
	ClientConnectionCount int        `json:"clientConnectionCount,omitempty"`
	LastClientConnectedAt *time.Time `json:"lastClientConnectedAt,omitempty"`
}

// Tunnel is a logical forwarding path with ports, endpoints and access
// control, identified by tunnel ID within a cluster.
type Tunnel struct {
	ClusterID     string              `json:"clusterId,omitempty"`
	TunnelID      string              `json:"tunnelId,omitempty"`
	Name          string              `json:"name,omitempty"`
	Description   string              `json:"description,omitempty"`
	Tags          []string            `json:"tags,omitempty"`
	Domain        string              `json:"domain,omitempty"`
	AccessControl TunnelAccessControl `json:"accessControl"`
	Options       TunnelOptions       `json:"options"`
	Status        TunnelStatus        `json:"status"`

	// Endpoints is hydrated through the connection-mode codec; each
	// element's concrete shape is selected by its discriminator.
	Endpoints EndpointList `json:"endpoints,omitempty" cbor:"-"`

	Ports   []TunnelPort `json:"ports,omitempty"`
	Created *time.Time   `json:"created,omitempty"`
}

// TunnelPort is one forwarded port of a tunnel.
type TunnelPort struct {
	ClusterID     string              `json:"clusterId,omitempty"`
	TunnelID      string              `json:"tunnelId,omitempty"`
	PortNumber    uint16              `json:"portNumber"`
	Protocol      string              `json:"protocol,omitempty"`
	AccessControl TunnelAccessControl `json:"accessControl"`
	Status        TunnelPortStatus    `json:"status"`
}

// ErrorDetail is the structured error body returned by the control
// plane API.
type ErrorDetail struct {
	// Code is a machine-readable error identifier.
	Code string `json:"code"`

	// Message is a human-readable description of the failure.
	Message string `json:"message"`

	// Target optionally names the request element that failed.
	Target string `json:"target,omitempty"`

	// Details optionally carries per-field sub-errors.
	Details []ErrorDetail `json:"details,omitempty"`

	// InnerError optionally carries a more specific nested error.
	InnerError *InnerErrorDetail `json:"innererror,omitempty"`
}

// InnerErrorDetail is a nested, more specific error code.
type InnerErrorDetail struct {
	Code       string            `json:"code"`
	InnerError *InnerErrorDetail `json:"innererror,omitempty"`
}
