package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"aquaduct.dev/sluice/src/store"
	"aquaduct.dev/sluice/types"
)

// storeError maps store failures to API errors.
func storeError(err error) *apiError {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return newAPIError(http.StatusNotFound, "notFound", err.Error())
	case errors.Is(err, store.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, store.ErrInvalid):
		return newAPIError(http.StatusBadRequest, "invalidRequest", err.Error())
	default:
		return newAPIError(http.StatusInternalServerError, "internal", err.Error())
	}
}

// tunnelFromPath loads the tunnel named in the request path.
func (s *Server) tunnelFromPath(r *http.Request) (types.Tunnel, *apiError) {
	t, err := s.store.GetTunnel(s.clusterID, r.PathValue("tunnelId"))
	if err != nil {
		return types.Tunnel{}, storeError(err)
	}
	return t, nil
}

func portFromPath(r *http.Request) (uint16, *apiError) {
	n, err := strconv.Atoi(r.PathValue("portNumber"))
	if err != nil || !types.IsValidPortNumber(n) {
		return 0, newAPIError(http.StatusBadRequest, "invalidRequest", fmt.Sprintf("invalid port number %q", r.PathValue("portNumber")))
	}
	return uint16(n), nil
}

func (s *Server) ListTunnelsHandler(w http.ResponseWriter, r *http.Request) {
	// The listing is filtered to tunnels the requester may inspect.
	var visible []types.Tunnel
	for _, t := range s.store.ListTunnels(s.clusterID) {
		if apiErr := s.authorize(r, &t, nil, types.ScopeInspect); apiErr == nil {
			visible = append(visible, t)
		}
	}
	if visible == nil {
		visible = []types.Tunnel{}
	}
	writeJSON(w, http.StatusOK, visible)
}

func (s *Server) CreateTunnelHandler(w http.ResponseWriter, r *http.Request) {
	if apiErr := s.authorize(r, nil, nil, types.ScopeCreate); apiErr != nil {
		writeError(w, apiErr)
		return
	}

	var t types.Tunnel
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, newAPIError(http.StatusBadRequest, "invalidRequest", fmt.Sprintf("invalid request body: %v", err)))
		return
	}
	t.ClusterID = s.clusterID

	if err := s.store.CreateTunnel(&t); err != nil {
		writeError(w, storeError(err))
		return
	}
	if err := s.store.Save(); err != nil {
		log.Error().Err(err).Msg("failed to save state snapshot")
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) GetTunnelHandler(w http.ResponseWriter, r *http.Request) {
	t, apiErr := s.tunnelFromPath(r)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	if apiErr := s.authorize(r, &t, nil, types.ScopeInspect); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) UpdateTunnelHandler(w http.ResponseWriter, r *http.Request) {
	t, apiErr := s.tunnelFromPath(r)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	if apiErr := s.authorize(r, &t, nil, types.ScopeManage); apiErr != nil {
		writeError(w, apiErr)
		return
	}

	var update types.Tunnel
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, newAPIError(http.StatusBadRequest, "invalidRequest", fmt.Sprintf("invalid request body: %v", err)))
		return
	}
	update.ClusterID = s.clusterID
	update.TunnelID = t.TunnelID

	if err := s.store.UpdateTunnel(&update); err != nil {
		writeError(w, storeError(err))
		return
	}
	if err := s.store.Save(); err != nil {
		log.Error().Err(err).Msg("failed to save state snapshot")
	}
	updated, err := s.store.GetTunnel(s.clusterID, t.TunnelID)
	if err != nil {
		writeError(w, storeError(err))
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) DeleteTunnelHandler(w http.ResponseWriter, r *http.Request) {
	t, apiErr := s.tunnelFromPath(r)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	if apiErr := s.authorize(r, &t, nil, types.ScopeManage); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	if err := s.store.DeleteTunnel(s.clusterID, t.TunnelID); err != nil {
		writeError(w, storeError(err))
		return
	}
	if err := s.store.Save(); err != nil {
		log.Error().Err(err).Msg("failed to save state snapshot")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ListPortsHandler(w http.ResponseWriter, r *http.Request) {
	t, apiErr := s.tunnelFromPath(r)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	if apiErr := s.authorize(r, &t, nil, types.ScopeInspect); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	ports, err := s.store.ListPorts(s.clusterID, t.TunnelID)
	if err != nil {
		writeError(w, storeError(err))
		return
	}
	if ports == nil {
		ports = []types.TunnelPort{}
	}
	writeJSON(w, http.StatusOK, ports)
}

func (s *Server) CreatePortHandler(w http.ResponseWriter, r *http.Request) {
	t, apiErr := s.tunnelFromPath(r)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	if apiErr := s.authorize(r, &t, nil, types.ScopeManagePorts); apiErr != nil {
		writeError(w, apiErr)
		return
	}

	var port types.TunnelPort
	if err := json.NewDecoder(r.Body).Decode(&port); err != nil {
		writeError(w, newAPIError(http.StatusBadRequest, "invalidRequest", fmt.Sprintf("invalid request body: %v", err)))
		return
	}
	if err := s.store.CreatePort(s.clusterID, t.TunnelID, port); err != nil {
		writeError(w, storeError(err))
		return
	}
	if err := s.store.Save(); err != nil {
		log.Error().Err(err).Msg("failed to save state snapshot")
	}
	created, err := s.store.GetPort(s.clusterID, t.TunnelID, port.PortNumber)
	if err != nil {
		writeError(w, storeError(err))
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) GetPortHandler(w http.ResponseWriter, r *http.Request) {
	t, apiErr := s.tunnelFromPath(r)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	portNumber, apiErr := portFromPath(r)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	// Port reads honor the port's effective ACL: tunnel entries are
	// inherited, so an inherited deny cannot be escaped at the port.
	acl, err := s.store.EffectivePortACL(s.clusterID, t.TunnelID, portNumber)
	if err != nil {
		writeError(w, storeError(err))
		return
	}
	if apiErr := s.authorize(r, &t, &acl, types.ScopeInspect); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	port, err := s.store.GetPort(s.clusterID, t.TunnelID, portNumber)
	if err != nil {
		writeError(w, storeError(err))
		return
	}
	writeJSON(w, http.StatusOK, port)
}

func (s *Server) DeletePortHandler(w http.ResponseWriter, r *http.Request) {
	t, apiErr := s.tunnelFromPath(r)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	portNumber, apiErr := portFromPath(r)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	if apiErr := s.authorize(r, &t, nil, types.ScopeManagePorts); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	if err := s.store.DeletePort(s.clusterID, t.TunnelID, portNumber); err != nil {
		writeError(w, storeError(err))
		return
	}
	if err := s.store.Save(); err != nil {
		log.Error().Err(err).Msg("failed to save state snapshot")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ListEndpointsHandler(w http.ResponseWriter, r *http.Request) {
	t, apiErr := s.tunnelFromPath(r)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	if apiErr := s.authorize(r, &t, nil, types.ScopeConnect); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	endpoints, err := s.store.ListEndpoints(s.clusterID, t.TunnelID)
	if err != nil {
		writeError(w, storeError(err))
		return
	}
	if endpoints == nil {
		endpoints = types.EndpointList{}
	}
	writeJSON(w, http.StatusOK, endpoints)
}

// UpsertEndpointHandler registers a host's endpoint. The body is a
// mode-discriminated endpoint object; a malformed discriminator is a
// 400 carrying the offending value.
func (s *Server) UpsertEndpointHandler(w http.ResponseWriter, r *http.Request) {
	t, apiErr := s.tunnelFromPath(r)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	if apiErr := s.authorize(r, &t, nil, types.ScopeHost); apiErr != nil {
		writeError(w, apiErr)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, newAPIError(http.StatusBadRequest, "invalidRequest", "failed to read body"))
		return
	}
	endpoint, err := types.UnmarshalEndpoint(body)
	if err != nil {
		writeError(w, newAPIError(http.StatusBadRequest, "invalidEndpoint", err.Error()))
		return
	}
	if endpoint.HostID() != r.PathValue("hostId") {
		writeError(w, newAPIError(http.StatusBadRequest, "invalidEndpoint",
			fmt.Sprintf("endpoint hostId %q does not match path %q", endpoint.HostID(), r.PathValue("hostId"))))
		return
	}

	if err := s.store.UpsertEndpoint(s.clusterID, t.TunnelID, endpoint); err != nil {
		writeError(w, storeError(err))
		return
	}
	if err := s.store.Save(); err != nil {
		log.Error().Err(err).Msg("failed to save state snapshot")
	}

	canonical, err := types.MarshalEndpoint(endpoint)
	if err != nil {
		writeError(w, newAPIError(http.StatusInternalServerError, "internal", err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(canonical)
}

func (s *Server) DeleteEndpointHandler(w http.ResponseWriter, r *http.Request) {
	t, apiErr := s.tunnelFromPath(r)
	if apiErr != nil {
		writeError(w, apiErr)
		return
	}
	if apiErr := s.authorize(r, &t, nil, types.ScopeHost); apiErr != nil {
		writeError(w, apiErr)
		return
	}
	if err := s.store.DeleteEndpoint(s.clusterID, t.TunnelID, r.PathValue("hostId")); err != nil {
		writeError(w, storeError(err))
		return
	}
	if err := s.store.Save(); err != nil {
		log.Error().Err(err).Msg("failed to save state snapshot")
	}
	w.WriteHeader(http.StatusNoContent)
}
