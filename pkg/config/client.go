package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// ClientConfig is the JSON file game clients load to reach the service.
type ClientConfig struct {
	Service struct {
		Connection struct {
			Address        string   `json:"address"`
			SSLCertificate []string `json:"ssl_certificate,omitempty"`
		} `json:"connection"`
	} `json:"service"`
	ProjectID string `json:"project_id,omitempty"`
	APIKey    string `json:"api_key,omitempty"`
}

// LoadClientConfig reads and validates a client configuration file.
func LoadClientConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading client config: %w", err)
	}
	var cfg ClientConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing client config: %w", err)
	}
	if cfg.Service.Connection.Address == "" {
		return nil, fmt.Errorf("client config is missing service.connection.address")
	}
	return &cfg, nil
}

// CertificatePEM joins the configured certificate lines back into a PEM
// block, "" when no certificate is configured.
func (c *ClientConfig) CertificatePEM() string {
	if len(c.Service.Connection.SSLCertificate) == 0 {
		return ""
	}
	return strings.Join(c.Service.Connection.SSLCertificate, "\n")
}

// WriteClientConfig renders a client configuration for a generated
// deployment, splitting the PEM certificate into lines.
func WriteClientConfig(path, address, certPEM, projectID, apiKey string) error {
	var cfg ClientConfig
	cfg.Service.Connection.Address = address
	if certPEM != "" {
		cfg.Service.Connection.SSLCertificate = strings.Split(strings.TrimRight(certPEM, "\n"), "\n")
	}
	cfg.ProjectID = projectID
	cfg.APIKey = apiKey
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
