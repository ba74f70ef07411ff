package clients

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ruteri/secret-compute-enclave/contractkey"
	"github.com/ruteri/secret-compute-enclave/cryptoutils"
	"github.com/ruteri/secret-compute-enclave/httpserver"
	"github.com/ruteri/secret-compute-enclave/secretmsg"
)

// NodeClient reads the public node information and, when the host API is
// reachable, forwards contract calls to the enclave.
type NodeClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewNodeClient(baseURL string, timeout ...time.Duration) *NodeClient {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}
	return &NodeClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: clientTimeout},
	}
}

func (c *NodeClient) Registration(ctx context.Context) (httpserver.RegistrationResponse, error) {
	var reg httpserver.RegistrationResponse
	resp, err := c.get(ctx, "/api/public/registration")
	if err != nil {
		return reg, err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(&reg); err != nil {
		return reg, fmt.Errorf("failed to parse registration: %w", err)
	}
	return reg, nil
}

// IOExchangePubkey returns the key user messages are encrypted to.
func (c *NodeClient) IOExchangePubkey(ctx context.Context) (secretmsg.PublicKey, error) {
	var pub secretmsg.PublicKey
	resp, err := c.get(ctx, "/api/public/io_exchange_pubkey")
	if err != nil {
		return pub, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return pub, err
	}
	raw, err := base64.StdEncoding.DecodeString(string(body))
	if err != nil || len(raw) != len(pub) {
		return pub, fmt.Errorf("malformed io exchange pubkey %q", body)
	}
	copy(pub[:], raw)
	return pub, nil
}

func (c *NodeClient) Init(ctx context.Context, call httpserver.InitCall) (httpserver.CallResponse, error) {
	return c.call(ctx, "/api/host/init", call)
}

func (c *NodeClient) Handle(ctx context.Context, call httpserver.HandleCall) (httpserver.CallResponse, error) {
	return c.call(ctx, "/api/host/handle", call)
}

func (c *NodeClient) Query(ctx context.Context, call httpserver.QueryCall) (httpserver.CallResponse, error) {
	return c.call(ctx, "/api/host/query", call)
}

func (c *NodeClient) Migrate(ctx context.Context, call httpserver.MigrateCall) (httpserver.CallResponse, error) {
	return c.call(ctx, "/api/host/migrate", call)
}

func (c *NodeClient) AdminChange(ctx context.Context, call httpserver.AdminChangeCall) error {
	_, err := c.call(ctx, "/api/host/admin_change", call)
	return err
}

func (c *NodeClient) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s failed with code %d: %s", path, resp.StatusCode, string(body))
	}
	return resp, nil
}

func (c *NodeClient) call(ctx context.Context, path string, body any) (httpserver.CallResponse, error) {
	var out httpserver.CallResponse
	reqJSON, err := json.Marshal(body)
	if err != nil {
		return out, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqJSON))
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return out, fmt.Errorf("%s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var callErr httpserver.CallError
		if err := json.NewDecoder(resp.Body).Decode(&callErr); err != nil || callErr.Error == "" {
			return out, fmt.Errorf("%s failed with code %d", path, resp.StatusCode)
		}
		return out, fmt.Errorf("%s failed with code %d: %s", path, resp.StatusCode, callErr.Error)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("failed to parse %s response: %w", path, err)
	}
	return out, nil
}

// UserSession seals contract inputs the way a wallet does and opens the
// node's encrypted replies.
type UserSession struct {
	nodeKey secretmsg.PublicKey
	user    cryptoutils.KeyPair
}

func NewUserSession(nodeKey secretmsg.PublicKey, user cryptoutils.KeyPair) *UserSession {
	return &UserSession{nodeKey: nodeKey, user: user}
}

// Seal encrypts hex(codeHash) || msg under a fresh nonce.
func (s *UserSession) Seal(codeHash contractkey.CodeHash, msg []byte) (secretmsg.SecretMessage, error) {
	var nonce secretmsg.Nonce
	if _, err := rand.Read(nonce[:]); err != nil {
		return secretmsg.SecretMessage{}, err
	}

	plaintext := make([]byte, 0, 2*len(codeHash)+len(msg))
	plaintext = append(plaintext, hex.EncodeToString(codeHash[:])...)
	plaintext = append(plaintext, msg...)
	return secretmsg.SealForNode(s.nodeKey, s.user, nonce, plaintext)
}

// Open decrypts a base64 value the node encrypted in reply to sent.
func (s *UserSession) Open(sent secretmsg.SecretMessage, valueB64 string) ([]byte, error) {
	ct, err := base64.StdEncoding.DecodeString(valueB64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", secretmsg.ErrInvalidB64, err)
	}
	return secretmsg.OpenFromNode(s.nodeKey, s.user, sent.Nonce, ct)
}
