package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"

	"aquaduct.dev/sluice/types"
)

// Snapshots use Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items.
// The same state always produces identical bytes.
var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("store: CBOR decoder initialization failed: " + err.Error())
	}
}

type snapshot struct {
	SavedAt time.Time        `cbor:"1,keyasint"`
	Tunnels []tunnelSnapshot `cbor:"2,keyasint"`
}

type tunnelSnapshot struct {
	Tunnel types.Tunnel       `cbor:"1,keyasint"`
	Ports  []types.TunnelPort `cbor:"2,keyasint,omitempty"`

	// Endpoints are kept in their mode-discriminated JSON wire form;
	// CBOR cannot decode into the TunnelEndpoint interface directly.
	Endpoints [][]byte `cbor:"3,keyasint,omitempty"`
}

// Save writes the current state to the snapshot file, atomically via
// a rename. Memory-only stores are a no-op.
func (s *Store) Save() error {
	if s.statePath == "" {
		return nil
	}
	s.mu.Lock()
	snap := snapshot{SavedAt: time.Now().UTC()}
	for _, ts := range s.tunnels {
		rec := tunnelSnapshot{Tunnel: ts.tunnel}
		for _, p := range ts.ports {
			rec.Ports = append(rec.Ports, p)
		}
		for _, e := range ts.endpoints {
			b, err := types.MarshalEndpoint(e)
			if err != nil {
				s.mu.Unlock()
				return fmt.Errorf("encoding endpoint: %w", err)
			}
			rec.Endpoints = append(rec.Endpoints, b)
		}
		snap.Tunnels = append(snap.Tunnels, rec)
	}
	s.mu.Unlock()

	data, err := encMode.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	tmp := s.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.statePath); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	log.Debug().Str("path", s.statePath).Int("tunnels", len(snap.Tunnels)).Msg("store: saved snapshot")
	return nil
}

// load restores state from a snapshot file. A missing file is not an
// error: the store simply starts empty.
func (s *Store) load(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading snapshot %s: %w", path, err)
	}

	var snap snapshot
	if err := decMode.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decoding snapshot %s: %w", path, err)
	}

	for _, rec := range snap.Tunnels {
		ts := &tunnelState{
			tunnel:       rec.Tunnel,
			ports:        make(map[uint16]types.TunnelPort),
			endpoints:    make(map[string]types.TunnelEndpoint),
			endpointSeen: make(map[string]time.Time),
		}
		for _, p := range rec.Ports {
			ts.ports[p.PortNumber] = p
		}
		for _, raw := range rec.Endpoints {
			e, err := types.UnmarshalEndpoint(raw)
			if err != nil {
				return fmt.Errorf("decoding snapshot %s: %w", path, err)
			}
			ts.endpoints[e.HostID()] = e
			ts.endpointSeen[e.HostID()] = snap.SavedAt
		}
		key := tunnelKey(rec.Tunnel.ClusterID, rec.Tunnel.TunnelID)
		s.tunnels[key] = ts
		if rec.Tunnel.Name != "" {
			s.names[tunnelKey(rec.Tunnel.ClusterID, rec.Tunnel.Name)] = rec.Tunnel.TunnelID
		}
	}
	log.Info().Str("path", path).Int("tunnels", len(snap.Tunnels)).Msg("store: loaded snapshot")
	return nil
}
