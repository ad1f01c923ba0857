package types

import "testing"

func TestClusterIDValidation(t *testing.T) {
	valid := []string{"usw2", "eun1", "main", "cluster12"}
	invalid := []string{"", "ab", "1abc", "Yes", "a-b", "averylongclustername"}

	for _, s := range valid {
		if !IsValidClusterID(s) {
			t.Errorf("IsValidClusterID(%q) = false, want true", s)
		}
	}
	for _, s := range invalid {
		if IsValidClusterID(s) {
			t.Errorf("IsValidClusterID(%q) = true, want false", s)
		}
	}
}

func TestTunnelIDValidation(t *testing.T) {
	valid := []string{"0bcdfghj", "99999999", "bcdfghjk"}
	invalid := []string{"", "short", "0bcdfghjx9", "0bcdfgha", "0BCDFGHJ"}

	for _, s := range valid {
		if !IsValidTunnelID(s) {
			t.Errorf("IsValidTunnelID(%q) = false, want true", s)
		}
	}
	for _, s := range invalid {
		if IsValidTunnelID(s) {
			t.Errorf("IsValidTunnelID(%q) = true, want false", s)
		}
	}
}

func TestTunnelNameValidation(t *testing.T) {
	valid := []string{"", "abc", "my-tunnel", "a1b2c3"}
	invalid := []string{"ab", "-tunnel", "tunnel-", "My-Tunnel", "a b"}

	for _, s := range valid {
		if !IsValidTunnelName(s) {
			t.Errorf("IsValidTunnelName(%q) = false, want true", s)
		}
	}
	for _, s := range invalid {
		if IsValidTunnelName(s) {
			t.Errorf("IsValidTunnelName(%q) = true, want false", s)
		}
	}
}

func TestTagValidation(t *testing.T) {
	valid := []string{"env=prod", "web", "team-alpha", "a"}
	invalid := []string{"", "has space", "emoji🎉"}

	for _, s := range valid {
		if !IsValidTag(s) {
			t.Errorf("IsValidTag(%q) = false, want true", s)
		}
	}
	for _, s := range invalid {
		if IsValidTag(s) {
			t.Errorf("IsValidTag(%q) = true, want false", s)
		}
	}
}

func TestPortNumberValidation(t *testing.T) {
	for _, n := range []int{1, 80, 65535} {
		if !IsValidPortNumber(n) {
			t.Errorf("IsValidPortNumber(%d) = false, want true", n)
		}
	}
	for _, n := range []int{0, -1, 65536} {
		if IsValidPortNumber(n) {
			t.Errorf("IsValidPortNumber(%d) = true, want false", n)
		}
	}
}
