package config

// Settings mirrors the single-row linescout_settings table. It is loaded
// explicitly and passed into the calculations that need it, never read
// through a hidden global.
type Settings struct {
	AgentPercent      float64 `json:"agent_percent"`
	ServiceFeePercent float64 `json:"service_fee_percent"`
	Currency          string  `json:"currency"`
}

// FallbackSettings returns the environment-configured defaults used when the
// settings row is missing or unreadable.
func (c *Config) FallbackSettings() Settings {
	return Settings{
		AgentPercent: c.DefaultAgentPercent,
		Currency:     c.DefaultCurrency,
	}
}
