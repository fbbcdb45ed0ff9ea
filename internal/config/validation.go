package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/kaiwa0/kaiwa/internal/log"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. Tablestore connection
	if c.OTSEndpoint == "" {
		return fmt.Errorf("%w: set ots_endpoint in config.yaml or KAIWA_OTS_ENDPOINT", ErrMissingEndpoint)
	}
	if err := validateEndpoint(c.OTSEndpoint); err != nil {
		return err
	}
	if c.OTSInstance == "" {
		return fmt.Errorf("%w: set ots_instance in config.yaml or KAIWA_OTS_INSTANCE", ErrMissingInstance)
	}

	// 2. Credentials: the key pair travels together. The STS token is
	// optional (only present for temporary credentials).
	if c.OTSAccessKeyID == "" || c.OTSAccessKeySecret == "" {
		return fmt.Errorf("%w: set KAIWA_ACCESS_KEY_ID/KAIWA_ACCESS_KEY_SECRET "+
			"(or the ALIBABA_CLOUD_* equivalents)", ErrMissingCredentials)
	}

	// 3. Table prefix must survive concatenation into a valid table name.
	if err := validateTablePrefix(c.TablePrefix); err != nil {
		return err
	}

	// 4. Client behavior
	if c.RequestTimeoutMS <= 0 {
		return fmt.Errorf("%w: request_timeout_ms must be positive, got %d", ErrInvalidTimeout, c.RequestTimeoutMS)
	}
	if c.RateLimitQPS < 0 {
		return fmt.Errorf("%w: rate_limit_qps must be >= 0, got %d", ErrInvalidRateLimit, c.RateLimitQPS)
	}

	// 5. Logging
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLogLevel, err)
	}

	return nil
}

// validateEndpoint checks that the endpoint parses as an http(s) URL.
// VPC endpoints are accepted here; the tablestore client rewrites them to
// their public form when needed.
func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidEndpoint, endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %q must start with http:// or https://", ErrInvalidEndpoint, endpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: %q has no host", ErrInvalidEndpoint, endpoint)
	}
	return nil
}

// validateTablePrefix checks the prefix against the store's table-name rules:
// a letter or underscore first, then letters, digits and underscores. The
// empty prefix is valid and means unprefixed table names.
func validateTablePrefix(prefix string) error {
	if prefix == "" {
		return nil
	}
	if len(prefix) > MaxTablePrefixLength {
		return fmt.Errorf("%w: %q exceeds max %d characters", ErrInvalidTablePrefix, prefix, MaxTablePrefixLength)
	}

	first := prefix[0]
	if first != '_' && (first < 'a' || first > 'z') && (first < 'A' || first > 'Z') {
		return fmt.Errorf("%w: %q must start with a letter or underscore", ErrInvalidTablePrefix, prefix)
	}
	if i := strings.IndexFunc(prefix, func(r rune) bool {
		return r != '_' && (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9')
	}); i >= 0 {
		return fmt.Errorf("%w: %q contains %q, only letters, digits and underscores are allowed",
			ErrInvalidTablePrefix, prefix, prefix[i])
	}
	return nil
}
