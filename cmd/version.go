package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kaiwa0/kaiwa/internal/config"
)

// NewVersionCmd creates the version command (factory pattern)
func NewVersionCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version and configuration information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(versionInfo(cfg))
			return nil
		},
	}
}

func versionLine() string {
	return fmt.Sprintf("kaiwa %s (build %s, commit %s)", AppVersion, BuildTime, GitCommit)
}

// versionInfo renders the version banner plus a configuration summary.
// Secrets stay masked; cfg.String applies the masking.
func versionInfo(cfg *config.Config) string {
	var b strings.Builder
	fmt.Fprintln(&b, versionLine())
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "Configuration:")
	fmt.Fprintf(&b, "  Endpoint:     %s\n", cfg.OTSEndpoint)
	fmt.Fprintf(&b, "  Instance:     %s\n", cfg.OTSInstance)
	fmt.Fprintf(&b, "  Table prefix: %s\n", orNone(cfg.TablePrefix))
	fmt.Fprintf(&b, "  Rate limit:   %d qps\n", cfg.RateLimitQPS)
	fmt.Fprintf(&b, "  Tracing:      %v\n", cfg.Tracing.Enabled)
	if cfg.OTSAccessKeyID != "" {
		fmt.Fprintln(&b, "  Credentials:  configured")
	} else {
		fmt.Fprintln(&b, "  Credentials:  not set (export ALIBABA_CLOUD_ACCESS_KEY_ID / _SECRET)")
	}
	return b.String()
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
