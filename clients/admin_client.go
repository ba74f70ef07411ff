package clients

import (
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ruteri/secret-compute-enclave/cryptoutils"
	"github.com/ruteri/secret-compute-enclave/httpserver"
	"github.com/ruteri/secret-compute-enclave/kms"
)

// AdminClient talks to the seed bootstrap API of a node. Every request is
// signed with the admin's key.
type AdminClient struct {
	baseURL    string
	adminID    string
	privateKey *ecdsa.PrivateKey
	httpClient *http.Client
}

// ShareAssignment says which share index went to which admin.
type ShareAssignment struct {
	AdminID    string `json:"admin_id"`
	ShareIndex int    `json:"share_index"`
}

// ShareResponse is an admin's encrypted share as returned by the node.
type ShareResponse struct {
	ShareIndex     int    `json:"share_index"`
	EncryptedShare string `json:"encrypted_share"`
}

// Status mirrors GET /admin/status.
type Status struct {
	State          string `json:"state"`
	Threshold      int    `json:"threshold,omitempty"`
	TotalShares    int    `json:"total_shares,omitempty"`
	ReceivedShares int    `json:"received_shares,omitempty"`
}

// NewAdminClient creates a client for the admin API under baseURL, for
// example "http://localhost:8080/admin". The timeout defaults to 30 seconds.
func NewAdminClient(baseURL, adminID string, privateKey *ecdsa.PrivateKey, timeout ...time.Duration) *AdminClient {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &AdminClient{
		baseURL:    baseURL,
		adminID:    adminID,
		privateKey: privateKey,
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
	}
}

func (c *AdminClient) GetStatus(ctx context.Context) (Status, error) {
	var status Status
	err := c.do(ctx, http.MethodGet, "/status", nil, &status)
	return status, err
}

// InitGenerate asks the node to create consensus seeds and split them into
// totalShares shares, any threshold of which recover the seeds.
func (c *AdminClient) InitGenerate(ctx context.Context, threshold, totalShares int) ([]ShareAssignment, error) {
	var result struct {
		Assignments []ShareAssignment `json:"share_assignments"`
	}
	err := c.do(ctx, http.MethodPost, "/init/generate", map[string]int{
		"threshold":    threshold,
		"total_shares": totalShares,
	}, &result)
	return result.Assignments, err
}

// InitRecover puts the node in recovery mode.
func (c *AdminClient) InitRecover(ctx context.Context, threshold int) error {
	return c.do(ctx, http.MethodPost, "/init/recover", map[string]int{"threshold": threshold}, nil)
}

// FetchShare retrieves this admin's encrypted share.
func (c *AdminClient) FetchShare(ctx context.Context) (ShareResponse, error) {
	var share ShareResponse
	err := c.do(ctx, http.MethodGet, "/share", nil, &share)
	return share, err
}

// SubmitShare signs and submits a decrypted share during recovery. It returns
// true once the node reconstructed its seeds.
func (c *AdminClient) SubmitShare(ctx context.Context, share []byte) (bool, error) {
	signature, err := kms.SignShare(share, c.privateKey)
	if err != nil {
		return false, fmt.Errorf("failed to sign share: %w", err)
	}

	var result struct {
		ReceivedShares *int `json:"received_shares"`
	}
	err = c.do(ctx, http.MethodPost, "/share", map[string]string{
		"share":     base64.StdEncoding.EncodeToString(share),
		"signature": base64.StdEncoding.EncodeToString(signature),
	}, &result)
	if err != nil {
		return false, err
	}
	return result.ReceivedShares == nil, nil
}

// WaitForCompletion polls the bootstrap status until it is complete.
func (c *AdminClient) WaitForCompletion(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.GetStatus(ctx)
		if err != nil {
			return fmt.Errorf("failed to get bootstrap status: %w", err)
		}
		if status.State == httpserver.StateComplete.String() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DecryptShare opens a fetched share with the admin's private key.
func DecryptShare(privateKeyPEM []byte, share ShareResponse) ([]byte, error) {
	encrypted, err := base64.StdEncoding.DecodeString(share.EncryptedShare)
	if err != nil {
		return nil, fmt.Errorf("invalid share encoding: %w", err)
	}
	return cryptoutils.DecryptAsAdmin(privateKeyPEM, encrypted)
}

func (c *AdminClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reqJSON []byte
	if body != nil {
		var err error
		reqJSON, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	req, err := httpserver.CreateSignedAdminRequest(method, c.baseURL+path, reqJSON, c.adminID, c.privateKey)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s failed with code %d: %s", path, resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", path, err)
	}
	return nil
}
