package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// E2E_BASE_URL points at a running server, e.g. http://localhost:8080. Empty skips the suite.
	BaseURL  string `envconfig:"E2E_BASE_URL"`
	GrpcAddr string `envconfig:"E2E_GRPC_ADDR" default:"localhost:9090"`
	// JWT_SECRET must match the server's so the suite can mint tokens.
	JWTSecret  string `envconfig:"JWT_SECRET"`
	BuyerID    string `envconfig:"E2E_BUYER_ID" default:"10"`
	SupplierID string `envconfig:"E2E_SUPPLIER_ID" default:"20"`
	// E2E_DEBUG_JSON dumps full response bodies
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
