package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

// Config is the caller-supplied surface of the branching toolkit: where the
// control plane lives, which project to target, and the wait budget for
// endpoint provisioning. The toolkit itself owns no persisted state.
type Config struct {
	APIURL   string
	APIToken string
	Project  string
	Schema   string
	SSLMode  string
	MaxWait  time.Duration

	// Autoscaling settings applied when the setup flow has to create
	// the project.
	MinCU                 float64
	MaxCU                 float64
	SuspendTimeoutSeconds int64
}

func Load() (*Config, error) {
	apiURL := os.Getenv("BRANCHLAB_API_URL")
	if apiURL == "" {
		return nil, fmt.Errorf("BRANCHLAB_API_URL environment variable is required")
	}
	apiToken := os.Getenv("BRANCHLAB_API_TOKEN")
	if apiToken == "" {
		return nil, fmt.Errorf("BRANCHLAB_API_TOKEN environment variable is required")
	}

	cfg := &Config{
		APIURL:                apiURL,
		APIToken:              apiToken,
		Project:               os.Getenv("BRANCHLAB_PROJECT"),
		Schema:                getenvDefault("BRANCHLAB_SCHEMA", "ecommerce"),
		SSLMode:               getenvDefault("BRANCHLAB_SSLMODE", "require"),
		MinCU:                 0.5,
		MaxCU:                 4.0,
		SuspendTimeoutSeconds: 60,
	}

	if cfg.Project == "" {
		cfg.Project = defaultProjectName()
	}

	maxWait, err := durationSeconds("BRANCHLAB_MAX_WAIT_SECONDS", 300)
	if err != nil {
		return nil, err
	}
	cfg.MaxWait = maxWait

	return cfg, nil
}

// defaultProjectName derives a per-user project name the way the hosted
// tutorials do, so two people pointing at the same workspace don't collide.
func defaultProjectName() string {
	user := os.Getenv("USER")
	if user == "" {
		user = "demo"
	}
	user = strings.Split(user, "@")[0]
	user = strings.ReplaceAll(user, ".", "-")
	return "lakebase-branching-" + strings.ToLower(user)
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationSeconds(key string, fallback int64) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return time.Duration(fallback) * time.Second, nil
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer number of seconds: %w", key, err)
	}
	return time.Duration(secs) * time.Second, nil
}
