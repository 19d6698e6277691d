package orchestrator

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/siegeup/node-agent/internal/logging"
)

// Registration announces this agent to the fleet orchestrator.
type Registration struct {
	Hostname string `json:"hostname"`
	Platform string `json:"platform"`
	Port     int    `json:"port"`
	Commit   string `json:"commit"`
}

// Client registers the agent with the orchestrator. Registration is
// best-effort: the agent is fully functional without an orchestrator, which
// can also discover hosts on its own.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				// Agents across the fleet serve self-signed certificates.
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

// Register posts the agent's identity to the orchestrator.
func (c *Client) Register(ctx context.Context, reg Registration) error {
	if c.baseURL == "" {
		return nil
	}

	body, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("marshal registration: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/agents/register", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post registration: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("orchestrator rejected registration: %s", resp.Status)
	}
	logging.L().Info("registered with orchestrator", "url", c.baseURL, "hostname", reg.Hostname)
	return nil
}
