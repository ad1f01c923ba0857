/*
Integration specs for the control plane REST API: the login challenge
flow, tunnel and port CRUD, ACL-gated anonymous access and endpoint
registration, all against an in-process server.
*/
package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"aquaduct.dev/sluice/src/auth"
	"aquaduct.dev/sluice/src/server"
	"aquaduct.dev/sluice/src/token"
	"aquaduct.dev/sluice/types"
)

const testSecret = "integration-test-secret"

var _ = Describe("Control plane API", func() {
	var (
		srv      *server.Server
		ts       *httptest.Server
		operator string
	)

	request := func(method, path, token string, body any) *http.Response {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			Expect(err).NotTo(HaveOccurred())
			reader = bytes.NewReader(data)
		}
		req, err := http.NewRequest(method, ts.URL+path, reader)
		Expect(err).NotTo(HaveOccurred())
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decode := func(resp *http.Response, out any) {
		defer resp.Body.Close()
		Expect(json.NewDecoder(resp.Body).Decode(out)).To(Succeed())
	}

	createTunnel := func(t types.Tunnel) types.Tunnel {
		resp := request("POST", "/tunnels", operator, t)
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		var created types.Tunnel
		decode(resp, &created)
		Expect(created.TunnelID).NotTo(BeEmpty())
		return created
	}

	BeforeEach(func() {
		var err error
		srv, err = server.NewServer(server.Config{
			ClusterID:     "main",
			SigningSecret: testSecret,
		})
		Expect(err).NotTo(HaveOccurred())
		ts = httptest.NewServer(srv.Handler)

		operator, err = auth.GetToken(strings.TrimPrefix(ts.URL, "http://"), testSecret, "spec-client")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		ts.Close()
		Expect(srv.Close()).To(Succeed())
	})

	Describe("healthcheck", func() {
		It("reports the cluster", func() {
			resp := request("GET", "/healthcheck", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var health map[string]any
			decode(resp, &health)
			Expect(health["clusterId"]).To(Equal("main"))
		})
	})

	Describe("login", func() {
		It("rejects a client with the wrong signing secret", func() {
			_, err := auth.GetToken(strings.TrimPrefix(ts.URL, "http://"), "wrong-secret", "spec-client")
			Expect(err).To(HaveOccurred())
		})

		It("mints a token that passes bearer auth", func() {
			resp := request("GET", "/tunnels", operator, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})
	})

	Describe("tunnel CRUD", func() {
		It("creates, reads, updates and deletes a tunnel", func() {
			created := createTunnel(types.Tunnel{Name: "web", Tags: []string{"prod"}})
			Expect(created.ClusterID).To(Equal("main"))
			Expect(created.Created).NotTo(BeNil())

			resp := request("GET", "/tunnels/"+created.TunnelID, operator, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var got types.Tunnel
			decode(resp, &got)
			Expect(got.Name).To(Equal("web"))

			got.Description = "updated"
			resp = request("PUT", "/tunnels/"+created.TunnelID, operator, got)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var updated types.Tunnel
			decode(resp, &updated)
			Expect(updated.Description).To(Equal("updated"))

			resp = request("DELETE", "/tunnels/"+created.TunnelID, operator, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			resp.Body.Close()

			resp = request("GET", "/tunnels/"+created.TunnelID, operator, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})

		It("rejects anonymous creation", func() {
			resp := request("POST", "/tunnels", "", types.Tunnel{})
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			resp.Body.Close()
		})

		It("lets a token's create scope authorize creation", func() {
			// Creation has no tunnel ACL to evaluate; the token's scope
			// grant alone must decide.
			resp := request("POST", "/tunnels", operator, types.Tunnel{Name: "scoped"})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			resp.Body.Close()
		})

		It("refuses creation to a token without the create scope", func() {
			readOnly, err := token.Mint(testSecret, token.Claims{
				RegisteredClaims: jwt.RegisteredClaims{Subject: "reader"},
				ClusterID:        "main",
				Scopes:           types.ScopeInspect,
			}, time.Hour)
			Expect(err).NotTo(HaveOccurred())

			resp := request("POST", "/tunnels", readOnly, types.Tunnel{})
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
			var body map[string]types.ErrorDetail
			decode(resp, &body)
			Expect(body["error"].Code).To(Equal("forbidden"))
		})

		It("refuses creation to a tunnel-bound token", func() {
			bound, err := token.Mint(testSecret, token.Claims{
				RegisteredClaims: jwt.RegisteredClaims{Subject: "host"},
				ClusterID:        "main",
				TunnelID:         "bcdfghjk",
				Scopes:           types.ScopeCreate,
			}, time.Hour)
			Expect(err).NotTo(HaveOccurred())

			resp := request("POST", "/tunnels", bound, types.Tunnel{})
			Expect(resp.StatusCode).To(Equal(http.StatusForbidden))
			resp.Body.Close()
		})

		It("rejects a garbage bearer token", func() {
			resp := request("GET", "/tunnels", "not-a-jwt", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			var body map[string]types.ErrorDetail
			decode(resp, &body)
			Expect(body["error"].Code).To(Equal("invalidToken"))
		})

		It("reports a name conflict", func() {
			createTunnel(types.Tunnel{Name: "taken"})
			resp := request("POST", "/tunnels", operator, types.Tunnel{Name: "taken"})
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			resp.Body.Close()
		})

		It("rejects an invalid tunnel name", func() {
			resp := request("POST", "/tunnels", operator, types.Tunnel{Name: "Not Valid!"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})
	})

	Describe("access control", func() {
		It("hides tunnels from anonymous requesters by default", func() {
			created := createTunnel(types.Tunnel{})
			resp := request("GET", "/tunnels/"+created.TunnelID, "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			resp.Body.Close()
		})

		It("grants anonymous access through an Anonymous entry", func() {
			created := createTunnel(types.Tunnel{
				AccessControl: types.TunnelAccessControl{Entries: []types.TunnelAccessControlEntry{
					{Type: types.EntryTypeAnonymous, Scopes: []string{types.ScopeInspect}},
				}},
			})
			resp := request("GET", "/tunnels/"+created.TunnelID, "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()

			// The grant covers inspect only.
			resp = request("GET", "/tunnels/"+created.TunnelID+"/endpoints", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			resp.Body.Close()
		})

		It("lets a deny entry override an allow entry", func() {
			created := createTunnel(types.Tunnel{
				AccessControl: types.TunnelAccessControl{Entries: []types.TunnelAccessControlEntry{
					{Type: types.EntryTypeAnonymous, Scopes: []string{types.ScopeInspect}},
					{Type: types.EntryTypeAnonymous, IsDeny: true, Scopes: []string{types.ScopeInspect}},
				}},
			})
			resp := request("GET", "/tunnels/"+created.TunnelID, "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			resp.Body.Close()
		})

		It("filters the tunnel listing per requester", func() {
			open := createTunnel(types.Tunnel{
				Name: "open",
				AccessControl: types.TunnelAccessControl{Entries: []types.TunnelAccessControlEntry{
					{Type: types.EntryTypeAnonymous, Scopes: []string{types.ScopeInspect}},
				}},
			})
			createTunnel(types.Tunnel{Name: "closed"})

			resp := request("GET", "/tunnels", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var listed []types.Tunnel
			decode(resp, &listed)
			Expect(listed).To(HaveLen(1))
			Expect(listed[0].TunnelID).To(Equal(open.TunnelID))
		})
	})

	Describe("ports", func() {
		var tunnel types.Tunnel

		BeforeEach(func() {
			tunnel = createTunnel(types.Tunnel{})
		})

		It("creates and lists ports", func() {
			resp := request("POST", "/tunnels/"+tunnel.TunnelID+"/ports", operator, types.TunnelPort{PortNumber: 8080})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var port types.TunnelPort
			decode(resp, &port)
			Expect(port.Protocol).To(Equal(types.ProtocolAuto))

			resp = request("GET", "/tunnels/"+tunnel.TunnelID+"/ports", operator, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var ports []types.TunnelPort
			decode(resp, &ports)
			Expect(ports).To(HaveLen(1))

			resp = request("DELETE", "/tunnels/"+tunnel.TunnelID+"/ports/8080", operator, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			resp.Body.Close()
		})

		It("rejects a duplicate port", func() {
			request("POST", "/tunnels/"+tunnel.TunnelID+"/ports", operator, types.TunnelPort{PortNumber: 443}).Body.Close()
			resp := request("POST", "/tunnels/"+tunnel.TunnelID+"/ports", operator, types.TunnelPort{PortNumber: 443})
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			resp.Body.Close()
		})

		It("rejects an unparsable port number in the path", func() {
			resp := request("GET", "/tunnels/"+tunnel.TunnelID+"/ports/eighty", operator, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		It("enforces an inherited deny on port reads", func() {
			// Tunnel denies anonymous; the port alone allows it. The
			// inherited deny must still win.
			denied := createTunnel(types.Tunnel{
				AccessControl: types.TunnelAccessControl{Entries: []types.TunnelAccessControlEntry{
					{Type: types.EntryTypeAnonymous, IsDeny: true, Scopes: []string{types.ScopeInspect}},
				}},
			})
			resp := request("POST", "/tunnels/"+denied.TunnelID+"/ports", operator, types.TunnelPort{
				PortNumber: 443,
				AccessControl: types.TunnelAccessControl{Entries: []types.TunnelAccessControlEntry{
					{Type: types.EntryTypeAnonymous, Scopes: []string{types.ScopeInspect}},
				}},
			})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			resp.Body.Close()

			resp = request("GET", "/tunnels/"+denied.TunnelID+"/ports/443", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			resp.Body.Close()
		})
	})

	Describe("endpoints", func() {
		var tunnel types.Tunnel

		BeforeEach(func() {
			tunnel = createTunnel(types.Tunnel{})
		})

		upsert := func(hostID, body string) *http.Response {
			req, err := http.NewRequest("PUT",
				fmt.Sprintf("%s/tunnels/%s/endpoints/%s", ts.URL, tunnel.TunnelID, hostID),
				strings.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Bearer "+operator)
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		It("registers a relay endpoint and echoes its canonical form", func() {
			resp := upsert("host-1", `{
				"hostId": "host-1",
				"connectionMode": "tunnelRelay",
				"clientRelayUri": "wss://relay.example.com/client"
			}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			Expect(err).NotTo(HaveOccurred())
			// The discriminator is canonicalized to PascalCase.
			Expect(string(body)).To(ContainSubstring(`"connectionMode":"TunnelRelay"`))

			resp = request("GET", "/tunnels/"+tunnel.TunnelID+"/endpoints", operator, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var endpoints types.EndpointList
			raw, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			Expect(err).NotTo(HaveOccurred())
			Expect(json.Unmarshal(raw, &endpoints)).To(Succeed())
			Expect(endpoints).To(HaveLen(1))
			Expect(endpoints[0].ConnectionMode()).To(Equal(types.ConnectionModeTunnelRelay))
		})

		It("rejects an unknown connection mode with the offending value", func() {
			resp := upsert("host-1", `{"hostId": "host-1", "connectionMode": "Bogus"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			var body map[string]types.ErrorDetail
			decode(resp, &body)
			Expect(body["error"].Code).To(Equal("invalidEndpoint"))
			Expect(body["error"].Message).To(ContainSubstring("Bogus"))
		})

		It("rejects a missing discriminator", func() {
			resp := upsert("host-1", `{"hostId": "host-1", "hostEndpoints": ["http://10.0.0.5:8080"]}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		It("rejects a hostId that does not match the path", func() {
			resp := upsert("host-1", `{"hostId": "other", "connectionMode": "LocalNetwork", "hostEndpoints": []}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		It("removes an endpoint", func() {
			upsert("host-1", `{"hostId": "host-1", "connectionMode": "LocalNetwork", "hostEndpoints": ["http://10.0.0.5:8080"]}`).Body.Close()
			resp := request("DELETE", "/tunnels/"+tunnel.TunnelID+"/endpoints/host-1", operator, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			resp.Body.Close()

			resp = request("DELETE", "/tunnels/"+tunnel.TunnelID+"/endpoints/host-1", operator, nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})
	})
})
