package alpaca

import "github.com/tathienbao/brokerhub/internal/types"

// Config holds credentials and policy for the Alpaca trading API. The venue
// is commission-free, so there is no commission knob here.
type Config struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`

	// BaseURL selects the trading environment, e.g.
	// https://paper-api.alpaca.markets. Empty uses the SDK default.
	BaseURL string `yaml:"base_url"`

	// DataBaseURL overrides the market data endpoint used for reference
	// prices at preview time.
	DataBaseURL string `yaml:"data_base_url"`

	// ReadOnly rejects every mutating call with ErrReadOnlyVenue.
	ReadOnly bool `yaml:"read_only"`

	// AllowedAccounts is a strict filter when non-empty. Alpaca
	// credentials map to a single account, so this normally holds zero or
	// one entries.
	AllowedAccounts []string `yaml:"allowed_accounts"`
}

// Validate checks that credentials are present.
func (c Config) Validate() error {
	if c.APIKey == "" || c.APISecret == "" {
		return types.ErrInvalidConfig
	}
	return nil
}
