// Package clients holds thin clients for the external collaborators: the key
// signing service and the NATS notification bus.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"wallet-backend/internal/config"
)

// SignerClient client for the external signing service that holds encrypted
// wallet keys. Decrypted key material returned by the service lives only in the
// caller's stack frame and must never be persisted or logged.
type SignerClient struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// DecryptKeyRequest key decryption request
type DecryptKeyRequest struct {
	UserID  string `json:"user_id"`
	Chain   string `json:"chain"`
	Network string `json:"network"`
	Address string `json:"address"`
}

// DecryptKeyResponse key decryption response
type DecryptKeyResponse struct {
	Success    bool   `json:"success"`
	PrivateKey string `json:"private_key,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewSignerClient creates the signing service client
func NewSignerClient(cfg config.SignerConfig) *SignerClient {
	timeout := 30 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return &SignerClient{
		baseURL:   cfg.ServiceURL,
		authToken: cfg.AuthToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// DecryptKey fetches the decrypted private key for one wallet address
func (c *SignerClient) DecryptKey(ctx context.Context, userID, chain, network, address string) (string, error) {
	req := DecryptKeyRequest{
		UserID:  userID,
		Chain:   chain,
		Network: network,
		Address: address,
	}

	response, err := c.makeRequest(ctx, http.MethodPost, "/api/v1/keys/decrypt", req)
	if err != nil {
		return "", fmt.Errorf("signer request failed: %w", err)
	}

	var decryptResp DecryptKeyResponse
	if err := json.Unmarshal(response, &decryptResp); err != nil {
		return "", fmt.Errorf("failed to parse signer response: %w", err)
	}
	if !decryptResp.Success {
		return "", fmt.Errorf("signer refused decryption: %s", decryptResp.Error)
	}
	if decryptResp.PrivateKey == "" {
		return "", fmt.Errorf("signer returned empty key material")
	}
	return decryptResp.PrivateKey, nil
}

// HealthCheck verifies the signing service is reachable
func (c *SignerClient) HealthCheck(ctx context.Context) error {
	response, err := c.makeRequest(ctx, http.MethodGet, "/api/v1/health", nil)
	if err != nil {
		return fmt.Errorf("signer health check failed: %w", err)
	}

	var healthResp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(response, &healthResp); err != nil {
		return fmt.Errorf("failed to parse signer health response: %w", err)
	}
	if healthResp.Status != "healthy" {
		return fmt.Errorf("signer service unhealthy: %s", healthResp.Status)
	}
	return nil
}

// makeRequest performs one HTTP request against the signing service
func (c *SignerClient) makeRequest(ctx context.Context, method, path string, data interface{}) ([]byte, error) {
	url := c.baseURL + path

	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "wallet-backend/1.0")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
		req.Header.Set("X-Service-Name", "wallet-backend")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(responseBody))
	}
	return responseBody, nil
}
