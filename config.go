package lockstore

import (
	"os"
	"strconv"
	"strings"
)

const (
	// DefaultStore selects the in-memory backend when no store is provided.
	DefaultStore = "mem://"
)

// Config carries the backend selection and credentials for Open. The zero
// value plus DefaultStore is a working in-memory configuration.
type Config struct {
	// Store is the backend URL: mem://, disk:///path,
	// s3://host[:port]/bucket[/prefix] or aws://bucket[/prefix].
	Store string

	// AWSRegion applies to aws:// stores when the URL carries no region query.
	AWSRegion string

	// Static credentials for s3:// stores. When empty the backend falls back
	// to the standard environment and instance credential chain.
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3SessionToken    string

	// AllowWipe enables the destructive Wipe operation. Leave false outside
	// of tests.
	AllowWipe bool
}

// DefaultConfig returns a configuration pointing at the in-memory backend.
func DefaultConfig() Config {
	return Config{Store: DefaultStore}
}

// ConfigFromEnv builds a configuration from LOCKSTORE_* environment
// variables, falling back to defaults for anything unset.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v := strings.TrimSpace(os.Getenv("LOCKSTORE_STORE")); v != "" {
		cfg.Store = v
	}
	cfg.AWSRegion = strings.TrimSpace(os.Getenv("LOCKSTORE_AWS_REGION"))
	cfg.S3AccessKeyID = strings.TrimSpace(os.Getenv("LOCKSTORE_S3_ACCESS_KEY_ID"))
	cfg.S3SecretAccessKey = os.Getenv("LOCKSTORE_S3_SECRET_ACCESS_KEY")
	cfg.S3SessionToken = os.Getenv("LOCKSTORE_S3_SESSION_TOKEN")
	if v := os.Getenv("LOCKSTORE_ALLOW_WIPE"); v != "" {
		if ok, err := strconv.ParseBool(v); err == nil {
			cfg.AllowWipe = ok
		}
	}
	return cfg
}
