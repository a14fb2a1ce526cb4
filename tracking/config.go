package tracking

import "time"

// Config is injected once at startup; nothing in this package reads globals.
type Config struct {
	PixelID       string
	AccessToken   string
	TestEventCode string // non-empty puts the conversions API in test mode
	EventIDPrefix string
	APIVersion    string
	Endpoint      string
	Timeout       time.Duration
	Country       string // two-letter country sent with user data
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		EventIDPrefix: "lf",
		APIVersion:    "v19.0",
		Endpoint:      "https://graph.facebook.com",
		Timeout:       5 * time.Second,
		Country:       "ca",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.EventIDPrefix == "" {
		c.EventIDPrefix = d.EventIDPrefix
	}
	if c.APIVersion == "" {
		c.APIVersion = d.APIVersion
	}
	if c.Endpoint == "" {
		c.Endpoint = d.Endpoint
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Country == "" {
		c.Country = d.Country
	}
	return c
}
