/*
Package store keeps the control plane's tunnel records: tunnels, their
ports and their registered endpoints, keyed by cluster and tunnel ID.
State lives in memory behind a mutex; a janitor goroutine prunes
expired ACL entries and endpoints whose host stopped checking in, and
an optional CBOR snapshot file persists state across restarts.
*/
package store

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"aquaduct.dev/sluice/types"
)

var (
	// ErrNotFound reports a missing tunnel, port or endpoint.
	ErrNotFound = errors.New("not found")

	// ErrConflict reports a create that collides with existing state.
	ErrConflict = errors.New("already exists")

	// ErrInvalid reports a record that fails contract validation.
	ErrInvalid = errors.New("invalid")
)

// Store holds all tunnel state for one control plane instance.
type Store struct {
	// mu protects every map below.
	mu sync.Mutex

	// tunnels maps "clusterID/tunnelID" to tunnel state.
	tunnels map[string]*tunnelState

	// names maps "clusterID/name" to tunnelID for name uniqueness.
	names map[string]string

	// statePath is the snapshot file, empty for memory-only stores.
	statePath string

	// closing stops the janitor and refuses new mutations.
	closing bool
}

type tunnelState struct {
	tunnel       types.Tunnel
	ports        map[uint16]types.TunnelPort
	endpoints    map[string]types.TunnelEndpoint
	endpointSeen map[string]time.Time
}

func tunnelKey(clusterID, tunnelID string) string { return clusterID + "/" + tunnelID }

// New creates a store. When statePath names an existing snapshot file
// the state is loaded from it.
func New(statePath string) (*Store, error) {
	s := &Store{
		tunnels:   make(map[string]*tunnelState),
		names:     make(map[string]string),
		statePath: statePath,
	}
	if statePath != "" {
		if err := s.load(statePath); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// generateTunnelID draws a fresh ID from the tunnel ID alphabet.
func generateTunnelID() string {
	b := make([]byte, types.TunnelIDLength)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	for i := range b {
		b[i] = types.TunnelIDChars[int(b[i])%len(types.TunnelIDChars)]
	}
	return string(b)
}

func normalizeACL(acl *types.TunnelAccessControl) {
	if acl.Entries == nil {
		acl.Entries = []types.TunnelAccessControlEntry{}
	}
	for i := range acl.Entries {
		if acl.Entries[i].Subjects == nil {
			acl.Entries[i].Subjects = []string{}
		}
		if acl.Entries[i].Scopes == nil {
			acl.Entries[i].Scopes = []string{}
		}
	}
}

func validateTunnel(t *types.Tunnel) error {
	if !types.IsValidClusterID(t.ClusterID) {
		return fmt.Errorf("%w cluster ID %q", ErrInvalid, t.ClusterID)
	}
	if !types.IsValidTunnelName(t.Name) {
		return fmt.Errorf("%w tunnel name %q", ErrInvalid, t.Name)
	}
	for _, tag := range t.Tags {
		if !types.IsValidTag(tag) {
			return fmt.Errorf("%w tag %q", ErrInvalid, tag)
		}
	}
	return nil
}

// CreateTunnel validates and stores a new tunnel. A missing tunnel ID
// is generated; the stored record (with ID and creation time filled
// in) is written back through t.
func (s *Store) CreateTunnel(t *types.Tunnel) error {
	if err := validateTunnel(t); err != nil {
		return err
	}
	if t.TunnelID == "" {
		t.TunnelID = generateTunnelID()
	} else if !types.IsValidTunnelID(t.TunnelID) {
		return fmt.Errorf("%w tunnel ID %q", ErrInvalid, t.TunnelID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return errors.New("store is closing")
	}

	key := tunnelKey(t.ClusterID, t.TunnelID)
	if _, ok := s.tunnels[key]; ok {
		return fmt.Errorf("tunnel %s %w", t.TunnelID, ErrConflict)
	}
	if t.Name != "" {
		nameKey := tunnelKey(t.ClusterID, t.Name)
		if _, ok := s.names[nameKey]; ok {
			return fmt.Errorf("tunnel name %q %w", t.Name, ErrConflict)
		}
		s.names[nameKey] = t.TunnelID
	}

	now := time.Now().UTC()
	t.Created = &now
	normalizeACL(&t.AccessControl)
	t.Endpoints = nil
	t.Ports = nil

	s.tunnels[key] = &tunnelState{
		tunnel:       *t,
		ports:        make(map[uint16]types.TunnelPort),
		endpoints:    make(map[string]types.TunnelEndpoint),
		endpointSeen: make(map[string]time.Time),
	}
	log.Info().Str("cluster", t.ClusterID).Str("tunnel", t.TunnelID).Msg("store: created tunnel")
	return nil
}

// hydrate builds an outward copy of a tunnel with its ports and
// endpoints attached. Caller must hold the mutex.
func (ts *tunnelState) hydrate() types.Tunnel {
	t := ts.tunnel
	for _, p := range ts.ports {
		t.Ports = append(t.Ports, p)
	}
	for _, e := range ts.endpoints {
		t.Endpoints = append(t.Endpoints, e)
	}
	return t
}

// GetTunnel returns a hydrated copy of one tunnel.
func (s *Store) GetTunnel(clusterID, tunnelID string) (types.Tunnel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.tunnels[tunnelKey(clusterID, tunnelID)]
	if !ok {
		return types.Tunnel{}, fmt.Errorf("tunnel %s %w", tunnelID, ErrNotFound)
	}
	return ts.hydrate(), nil
}

// ResolveName finds a tunnel by its name within a cluster.
func (s *Store) ResolveName(clusterID, name string) (types.Tunnel, error) {
	s.mu.Lock()
	tunnelID, ok := s.names[tunnelKey(clusterID, name)]
	s.mu.Unlock()
	if !ok {
		return types.Tunnel{}, fmt.Errorf("tunnel name %q %w", name, ErrNotFound)
	}
	return s.GetTunnel(clusterID, tunnelID)
}

// ListTunnels returns hydrated copies of every tunnel in a cluster.
func (s *Store) ListTunnels(clusterID string) []types.Tunnel {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.Tunnel
	for _, ts := range s.tunnels {
		if ts.tunnel.ClusterID == clusterID {
			out = append(out, ts.hydrate())
		}
	}
	return out
}

// UpdateTunnel replaces a tunnel's mutable fields: name, description,
// tags, domain, options and access control.
func (s *Store) UpdateTunnel(t *types.Tunnel) error {
	if err := validateTunnel(t); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.tunnels[tunnelKey(t.ClusterID, t.TunnelID)]
	if !ok {
		return fmt.Errorf("tunnel %s %w", t.TunnelID, ErrNotFound)
	}

	if t.Name != ts.tunnel.Name {
		if t.Name != "" {
			nameKey := tunnelKey(t.ClusterID, t.Name)
			if otherID, taken := s.names[nameKey]; taken && otherID != t.TunnelID {
				return fmt.Errorf("tunnel name %q %w", t.Name, ErrConflict)
			}
			s.names[nameKey] = t.TunnelID
		}
		if ts.tunnel.Name != "" {
			delete(s.names, tunnelKey(t.ClusterID, ts.tunnel.Name))
		}
	}

	normalizeACL(&t.AccessControl)
	ts.tunnel.Name = t.Name
	ts.tunnel.Description = t.Description
	ts.tunnel.Tags = t.Tags
	ts.tunnel.Domain = t.Domain
	ts.tunnel.Options = t.Options
	ts.tunnel.AccessControl = t.AccessControl
	return nil
}

// DeleteTunnel removes a tunnel and all of its ports and endpoints.
func (s *Store) DeleteTunnel(clusterID, tunnelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tunnelKey(clusterID, tunnelID)
	ts, ok := s.tunnels[key]
	if !ok {
		return fmt.Errorf("tunnel %s %w", tunnelID, ErrNotFound)
	}
	if ts.tunnel.Name != "" {
		delete(s.names, tunnelKey(clusterID, ts.tunnel.Name))
	}
	delete(s.tunnels, key)
	log.Info().Str("cluster", clusterID).Str("tunnel", tunnelID).Msg("store: deleted tunnel")
	return nil
}

// CreatePort adds a port to a tunnel.
func (s *Store) CreatePort(clusterID, tunnelID string, port types.TunnelPort) error {
	if !types.IsValidPortNumber(int(port.PortNumber)) {
		return fmt.Errorf("%w port number %d", ErrInvalid, port.PortNumber)
	}
	if port.Protocol == "" {
		port.Protocol = types.ProtocolAuto
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.tunnels[tunnelKey(clusterID, tunnelID)]
	if !ok {
		return fmt.Errorf("tunnel %s %w", tunnelID, ErrNotFound)
	}
	if _, ok := ts.ports[port.PortNumber]; ok {
		return fmt.Errorf("port %d %w", port.PortNumber, ErrConflict)
	}

	port.ClusterID = clusterID
	port.TunnelID = tunnelID
	normalizeACL(&port.AccessControl)
	ts.ports[port.PortNumber] = port
	return nil
}

// GetPort returns one port of a tunnel.
func (s *Store) GetPort(clusterID, tunnelID string, portNumber uint16) (types.TunnelPort, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.tunnels[tunnelKey(clusterID, tunnelID)]
	if !ok {
		return types.TunnelPort{}, fmt.Errorf("tunnel %s %w", tunnelID, ErrNotFound)
	}
	port, ok := ts.ports[portNumber]
	if !ok {
		return types.TunnelPort{}, fmt.Errorf("port %d %w", portNumber, ErrNotFound)
	}
	return port, nil
}

// ListPorts returns every port of a tunnel.
func (s *Store) ListPorts(clusterID, tunnelID string) ([]types.TunnelPort, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.tunnels[tunnelKey(clusterID, tunnelID)]
	if !ok {
		return nil, fmt.Errorf("tunnel %s %w", tunnelID, ErrNotFound)
	}
	var out []types.TunnelPort
	for _, p := range ts.ports {
		out = append(out, p)
	}
	return out, nil
}

// DeletePort removes one port of a tunnel.
func (s *Store) DeletePort(clusterID, tunnelID string, portNumber uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.tunnels[tunnelKey(clusterID, tunnelID)]
	if !ok {
		return fmt.Errorf("tunnel %s %w", tunnelID, ErrNotFound)
	}
	if _, ok := ts.ports[portNumber]; !ok {
		return fmt.Errorf("port %d %w", portNumber, ErrNotFound)
	}
	delete(ts.ports, portNumber)
	return nil
}

// EffectivePortACL returns the merged access control list of a port:
// the parent tunnel's entries marked inherited, then the port's own.
func (s *Store) EffectivePortACL(clusterID, tunnelID string, portNumber uint16) (types.TunnelAccessControl, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.tunnels[tunnelKey(clusterID, tunnelID)]
	if !ok {
		return types.TunnelAccessControl{}, fmt.Errorf("tunnel %s %w", tunnelID, ErrNotFound)
	}
	port, ok := ts.ports[portNumber]
	if !ok {
		return types.TunnelAccessControl{}, fmt.Errorf("port %d %w", portNumber, ErrNotFound)
	}
	return types.InheritAccessControl(ts.tunnel.AccessControl, port.AccessControl), nil
}

// UpsertEndpoint registers or refreshes a host's endpoint on a tunnel.
// Re-registering counts as a host check-in for janitor purposes.
func (s *Store) UpsertEndpoint(clusterID, tunnelID string, endpoint types.TunnelEndpoint) error {
	if endpoint.HostID() == "" {
		return fmt.Errorf("%w endpoint: missing hostId", ErrInvalid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.tunnels[tunnelKey(clusterID, tunnelID)]
	if !ok {
		return fmt.Errorf("tunnel %s %w", tunnelID, ErrNotFound)
	}

	now := time.Now().UTC()
	if _, known := ts.endpoints[endpoint.HostID()]; !known {
		ts.tunnel.Status.HostConnectionCount++
	}
	ts.endpoints[endpoint.HostID()] = endpoint
	ts.endpointSeen[endpoint.HostID()] = now
	ts.tunnel.Status.LastHostConnectedAt = &now
	return nil
}

// ListEndpoints returns the endpoints registered on a tunnel.
func (s *Store) ListEndpoints(clusterID, tunnelID string) (types.EndpointList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.tunnels[tunnelKey(clusterID, tunnelID)]
	if !ok {
		return nil, fmt.Errorf("tunnel %s %w", tunnelID, ErrNotFound)
	}
	var out types.EndpointList
	for _, e := range ts.endpoints {
		out = append(out, e)
	}
	return out, nil
}

// DeleteEndpoint removes a host's endpoint from a tunnel.
func (s *Store) DeleteEndpoint(clusterID, tunnelID, hostID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.tunnels[tunnelKey(clusterID, tunnelID)]
	if !ok {
		return fmt.Errorf("tunnel %s %w", tunnelID, ErrNotFound)
	}
	if _, ok := ts.endpoints[hostID]; !ok {
		return fmt.Errorf("endpoint %s %w", hostID, ErrNotFound)
	}
	delete(ts.endpoints, hostID)
	delete(ts.endpointSeen, hostID)
	if ts.tunnel.Status.HostConnectionCount > 0 {
		ts.tunnel.Status.HostConnectionCount--
	}
	return nil
}

// StartJanitor launches a background goroutine that periodically
// prunes expired ACL entries and endpoints whose host has not checked
// in within 2 * interval.
func (s *Store) StartJanitor(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			s.mu.Lock()
			if s.closing {
				s.mu.Unlock()
				return
			}
			s.pruneLocked(time.Now(), 2*interval)
			s.mu.Unlock()
		}
	}()
}

// pruneLocked drops expired ACL entries and stale endpoints. Caller
// must hold the mutex.
func (s *Store) pruneLocked(now time.Time, staleAfter time.Duration) {
	cutoff := now.Add(-staleAfter)
	for key, ts := range s.tunnels {
		ts.tunnel.AccessControl.Entries = pruneExpiredEntries(ts.tunnel.AccessControl.Entries, now, key)
		for num, port := range ts.ports {
			port.AccessControl.Entries = pruneExpiredEntries(port.AccessControl.Entries, now, key)
			ts.ports[num] = port
		}
		for hostID, seen := range ts.endpointSeen {
			if seen.Before(cutoff) {
				delete(ts.endpoints, hostID)
				delete(ts.endpointSeen, hostID)
				if ts.tunnel.Status.HostConnectionCount > 0 {
					ts.tunnel.Status.HostConnectionCount--
				}
				log.Info().Str("tunnel", key).Str("host", hostID).Msg("janitor: removed stale endpoint")
			}
		}
	}
}

func pruneExpiredEntries(entries []types.TunnelAccessControlEntry, now time.Time, key string) []types.TunnelAccessControlEntry {
	kept := entries[:0]
	for _, e := range entries {
		if e.Expiration != nil && !now.Before(*e.Expiration) {
			log.Info().Str("tunnel", key).Str("type", string(e.Type)).Msg("janitor: removed expired access control entry")
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

// Close stops the janitor on its next tick and saves a final snapshot.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	if s.statePath == "" {
		return nil
	}
	return s.Save()
}
