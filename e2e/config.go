package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// DELIVERY_ADDR is the address of a running delivery server, the suite is skipped without it
	DeliveryAddr string `envconfig:"DELIVERY_ADDR"`
	// E2E_SECRET must match the JWT_SECRET of the server
	Secret string `envconfig:"E2E_SECRET"`
	// E2E_DEBUG_JSON allows dumping every envelope as JSON
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
