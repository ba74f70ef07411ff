package httpserver

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/secret-compute-enclave/common"
	"github.com/ruteri/secret-compute-enclave/cryptoutils"
	"github.com/ruteri/secret-compute-enclave/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAdmin struct {
	privPEM []byte
	priv    *ecdsa.PrivateKey
}

func generateAdmins(t *testing.T, n int) (map[string]testAdmin, map[string][]byte) {
	admins := make(map[string]testAdmin, n)
	pubKeys := make(map[string][]byte, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("admin%d", i+1)
		privPEM, pubPEM, err := GenerateAdminKeyPair()
		require.NoError(t, err)
		priv, err := ParsePrivateKey([]byte(privPEM))
		require.NoError(t, err)

		admins[id] = testAdmin{privPEM: []byte(privPEM), priv: priv}
		pubKeys[id] = []byte(pubPEM)
	}
	return admins, pubKeys
}

func createAdminServer(t *testing.T, handler *AdminHandler) *httptest.Server {
	r := chi.NewRouter()
	r.Mount("/admin", handler.AdminRouter())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doAdmin(t *testing.T, srv *httptest.Server, method, path string, body any, id string, admin testAdmin) (*http.Response, map[string]any) {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req, err := CreateSignedAdminRequest(method, srv.URL+path, raw, id, admin.priv)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestNewAdminHandler(t *testing.T) {
	_, pubKeys := generateAdmins(t, 2)

	h := NewAdminHandler(common.DiscardLogger(), kms.NewKeyHierarchy(nil, common.DiscardLogger()), pubKeys)
	assert.Equal(t, StateInitial, h.State())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.WaitForBootstrap(ctx), context.DeadlineExceeded)

	keys := kms.NewKeyHierarchy(nil, common.DiscardLogger())
	_, err := keys.CreateConsensusSeed(context.Background())
	require.NoError(t, err)

	h = NewAdminHandler(common.DiscardLogger(), keys, pubKeys)
	assert.Equal(t, StateComplete, h.State())
	assert.NoError(t, h.WaitForBootstrap(context.Background()))
}

func TestAdminAuthentication(t *testing.T) {
	admins, pubKeys := generateAdmins(t, 2)
	h := NewAdminHandler(common.DiscardLogger(), kms.NewKeyHierarchy(nil, common.DiscardLogger()), pubKeys)
	srv := createAdminServer(t, h)
	body := map[string]int{"threshold": 2, "total_shares": 2}

	t.Run("missing headers", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/admin/init/generate", "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("unknown admin", func(t *testing.T) {
		resp, out := doAdmin(t, srv, http.MethodPost, "/admin/init/generate", body, "admin9", admins["admin1"])
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "unauthorized", out["error"])
	})

	t.Run("signed by another admin", func(t *testing.T) {
		resp, _ := doAdmin(t, srv, http.MethodPost, "/admin/init/generate", body, "admin1", admins["admin2"])
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("signature over another path", func(t *testing.T) {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		req, err := CreateSignedAdminRequest(http.MethodPost, srv.URL+"/admin/init/recover", raw, "admin1", admins["admin1"].priv)
		require.NoError(t, err)
		req.URL.Path = "/admin/init/generate"

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	assert.Equal(t, StateInitial, h.State())
}

func TestInitGenerateInvalidParameters(t *testing.T) {
	admins, pubKeys := generateAdmins(t, 3)
	h := NewAdminHandler(common.DiscardLogger(), kms.NewKeyHierarchy(nil, common.DiscardLogger()), pubKeys)
	srv := createAdminServer(t, h)

	tests := []struct {
		name string
		body any
	}{
		{name: "threshold below two", body: map[string]int{"threshold": 1, "total_shares": 3}},
		{name: "fewer shares than threshold", body: map[string]int{"threshold": 3, "total_shares": 2}},
		{name: "more shares than admins", body: map[string]int{"threshold": 2, "total_shares": 4}},
		{name: "not an object", body: "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := doAdmin(t, srv, http.MethodPost, "/admin/init/generate", tt.body, "admin1", admins["admin1"])
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
	assert.Equal(t, StateInitial, h.State())
}

func TestGenerateAndRetrieveShares(t *testing.T) {
	admins, pubKeys := generateAdmins(t, 3)
	keys := kms.NewKeyHierarchy(nil, common.DiscardLogger())
	h := NewAdminHandler(common.DiscardLogger(), keys, pubKeys)
	srv := createAdminServer(t, h)

	resp, _ := doAdmin(t, srv, http.MethodGet, "/admin/share", nil, "admin1", admins["admin1"])
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "nothing to retrieve before generation")

	resp, out := doAdmin(t, srv, http.MethodPost, "/admin/init/generate", map[string]int{"threshold": 2, "total_shares": 3}, "admin1", admins["admin1"])
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, out["threshold"])
	assert.Len(t, out["share_assignments"], 3)

	require.True(t, keys.IsInitialized())
	require.NoError(t, h.WaitForBootstrap(context.Background()))
	assert.Equal(t, StateDistributingShares, h.State())

	resp, _ = doAdmin(t, srv, http.MethodPost, "/admin/init/generate", map[string]int{"threshold": 2, "total_shares": 3}, "admin1", admins["admin1"])
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "second generation is rejected")

	shares := make([][]byte, 0, 3)
	for _, id := range []string{"admin1", "admin2", "admin3"} {
		resp, out := doAdmin(t, srv, http.MethodGet, "/admin/share", nil, id, admins[id])
		require.Equal(t, http.StatusOK, resp.StatusCode)

		encrypted, err := base64.StdEncoding.DecodeString(out["encrypted_share"].(string))
		require.NoError(t, err)
		share, err := cryptoutils.DecryptAsAdmin(admins[id].privPEM, encrypted)
		require.NoError(t, err)
		shares = append(shares, share)

		_, err = cryptoutils.DecryptAsAdmin(admins["admin1"].privPEM, encrypted)
		if id != "admin1" {
			assert.Error(t, err, "share of %s opened by admin1", id)
		}
	}
	assert.Equal(t, StateComplete, h.State())

	seeds, err := keys.Seeds()
	require.NoError(t, err)
	combined, err := kms.CombineSeeds(shares[1:])
	require.NoError(t, err)
	assert.Equal(t, seeds, combined)

	resp, _ = doAdmin(t, srv, http.MethodGet, "/admin/share", nil, "admin1", admins["admin1"])
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "shares are dropped once retrieved")
}

func TestRecoverSeeds(t *testing.T) {
	admins, pubKeys := generateAdmins(t, 3)

	original := kms.NewKeyHierarchy(nil, common.DiscardLogger())
	seeds, err := original.CreateConsensusSeed(context.Background())
	require.NoError(t, err)
	shares, err := kms.SplitSeeds(seeds, 3, 2)
	require.NoError(t, err)

	keys := kms.NewKeyHierarchy(nil, common.DiscardLogger())
	h := NewAdminHandler(common.DiscardLogger(), keys, pubKeys)
	srv := createAdminServer(t, h)

	submit := func(id string, share []byte) (*http.Response, map[string]any) {
		sig, err := kms.SignShare(share, admins[id].priv)
		require.NoError(t, err)
		return doAdmin(t, srv, http.MethodPost, "/admin/share", map[string]string{
			"share":     base64.StdEncoding.EncodeToString(share),
			"signature": base64.StdEncoding.EncodeToString(sig),
		}, id, admins[id])
	}

	resp, _ := submit("admin1", shares[0])
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "not recovering yet")

	resp, _ = doAdmin(t, srv, http.MethodPost, "/admin/init/recover", map[string]int{"threshold": 1}, "admin1", admins["admin1"])
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doAdmin(t, srv, http.MethodPost, "/admin/init/recover", map[string]int{"threshold": 2}, "admin1", admins["admin1"])
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, StateRecovering, h.State())

	resp, out := submit("admin1", shares[0])
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, out["received_shares"])
	assert.False(t, keys.IsInitialized())

	resp, _ = doAdmin(t, srv, http.MethodGet, "/admin/status", nil, "admin1", admins["admin1"])
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = submit("admin3", shares[2])
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, StateComplete, h.State())
	require.NoError(t, h.WaitForBootstrap(context.Background()))

	recovered, err := keys.Seeds()
	require.NoError(t, err)
	assert.Equal(t, seeds, recovered)
}

func TestLoadAdminKeys(t *testing.T) {
	_, pubKeys := generateAdmins(t, 1)

	raw, err := json.Marshal(map[string]any{
		"admins": []map[string]string{{"id": "alice", "pubkey": string(pubKeys["admin1"])}},
	})
	require.NoError(t, err)
	keys, err := LoadAdminKeys(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, pubKeys["admin1"], keys["alice"])

	_, err = LoadAdminKeys(bytes.NewReader([]byte(`{"admins":[{"id":"bob","pubkey":"not a key"}]}`)))
	assert.Error(t, err)
}
