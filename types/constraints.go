package types

import "regexp"

// Validation constraints for tunnel contract fields. The patterns are
// immutable configuration data shared with every client of the
// service; changing them breaks interoperability.
const (
	// ClusterIDPattern: short lowercase DNS-safe label, 3-12 chars.
	ClusterIDPattern = "^[a-z][a-z0-9]{2,11}$"

	// TunnelIDChars is the alphabet tunnel IDs are generated from:
	// digits plus lowercase consonants, so IDs never spell words.
	TunnelIDChars = "0123456789bcdfghjklmnpqrstvwxz"

	// TunnelIDLength is the fixed generated tunnel ID length.
	TunnelIDLength = 8

	// TunnelIDPattern matches a generated tunnel ID.
	TunnelIDPattern = "^[" + TunnelIDChars + "]{8}$"

	// TunnelNamePattern: lowercase DNS-safe name, 3-60 chars, no
	// leading or trailing hyphen.
	TunnelNamePattern = "^[a-z0-9][a-z0-9-]{1,58}[a-z0-9]$"

	// TagPattern: word characters, hyphens and equals, 1-50 chars.
	TagPattern = `^[\w-=]{1,50}$`

	// MinPortNumber and MaxPortNumber bound valid port numbers.
	MinPortNumber = 1
	MaxPortNumber = 65535
)

var (
	clusterIDRegex  = regexp.MustCompile(ClusterIDPattern)
	tunnelIDRegex   = regexp.MustCompile(TunnelIDPattern)
	tunnelNameRegex = regexp.MustCompile(TunnelNamePattern)
	tagRegex        = regexp.MustCompile(TagPattern)
)

// IsValidClusterID reports whether s is a well-formed cluster ID.
func IsValidClusterID(s string) bool { return clusterIDRegex.MatchString(s) }

// IsValidTunnelID reports whether s is a well-formed tunnel ID.
func IsValidTunnelID(s string) bool { return tunnelIDRegex.MatchString(s) }

// IsValidTunnelName reports whether s is a well-formed tunnel name.
// An empty name is valid: unnamed tunnels are addressed by ID.
func IsValidTunnelName(s string) bool {
	return s == "" || tunnelNameRegex.MatchString(s)
}

// IsValidTag reports whether s is a well-formed tunnel tag.
func IsValidTag(s string) bool { return tagRegex.MatchString(s) }

// IsValidPortNumber reports whether n is in the valid port range.
func IsValidPortNumber(n int) bool {
	return n >= MinPortNumber && n <= MaxPortNumber
}
