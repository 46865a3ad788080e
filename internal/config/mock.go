package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// MockConfig configures the bundled mock control-plane server. It needs an
// admin connection to a plain Postgres, which it carves branch databases out
// of.
type MockConfig struct {
	Port     int
	APIToken string

	DBHost          string
	DBPort          int
	DBAdminUser     string
	DBAdminPassword string

	// AdvertiseHost is what endpoints report as their host; defaults to DBHost.
	AdvertiseHost string

	// ProvisionDelay is how long a new branch's endpoint stays invisible,
	// mimicking the managed service's asynchronous compute attach.
	ProvisionDelay time.Duration

	TokenSecret []byte
}

func LoadMock() (*MockConfig, error) {
	host := os.Getenv("DB_HOST")
	if host == "" {
		return nil, fmt.Errorf("DB_HOST environment variable is required")
	}
	adminUser := os.Getenv("DB_ADMIN_USER")
	if adminUser == "" {
		return nil, fmt.Errorf("DB_ADMIN_USER environment variable is required")
	}
	adminPassword := os.Getenv("DB_ADMIN_PASSWORD")
	if adminPassword == "" {
		return nil, fmt.Errorf("DB_ADMIN_PASSWORD environment variable is required")
	}
	apiToken := os.Getenv("BRANCHLAB_API_TOKEN")
	if apiToken == "" {
		return nil, fmt.Errorf("BRANCHLAB_API_TOKEN environment variable is required")
	}
	secret := os.Getenv("CREDENTIAL_TOKEN_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("CREDENTIAL_TOKEN_SECRET environment variable is required")
	}

	port, err := intEnv("PORT", 8080)
	if err != nil {
		return nil, err
	}
	dbPort, err := intEnv("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}
	delay, err := durationSeconds("MOCK_PROVISION_DELAY_SECONDS", 0)
	if err != nil {
		return nil, err
	}

	return &MockConfig{
		Port:            port,
		APIToken:        apiToken,
		DBHost:          host,
		DBPort:          dbPort,
		DBAdminUser:     adminUser,
		DBAdminPassword: adminPassword,
		AdvertiseHost:   getenvDefault("MOCK_ADVERTISE_HOST", host),
		ProvisionDelay:  delay,
		TokenSecret:     []byte(secret),
	}, nil
}

func intEnv(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return v, nil
}
