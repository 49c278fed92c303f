package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aeonia-ai/gaia-sub004/pkg/cli"
	"github.com/Aeonia-ai/gaia-sub004/pkg/config"
	"github.com/Aeonia-ai/gaia-sub004/pkg/proxy"
	"github.com/Aeonia-ai/gaia-sub004/pkg/telemetry/health"
)

var validateFlags struct {
	format string
	probe  bool
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the gateway configuration",
	Long: `Load the configuration the way "gaia run" would, including GAIA_*
environment overrides, and report every invalid field.

With --probe the configured services are also asked for GET /health.

Examples:
  # Validate a file
  gaia validate --config config.yaml

  # Machine-readable output
  gaia validate --config config.yaml --format json

  # Also check that every backend service answers
  gaia validate --config config.yaml --probe`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validateFlags.format, "format", "text", "output format: text, json")
	validateCmd.Flags().BoolVar(&validateFlags.probe, "probe", false, "probe each service's /health endpoint")
}

type fieldProblem struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type validationResult struct {
	Valid     bool                              `json:"valid"`
	Source    string                            `json:"source"`
	Errors    []fieldProblem                    `json:"errors,omitempty"`
	Services  map[string]string                 `json:"services,omitempty"`
	Routes    int                               `json:"routes"`
	Database  string                            `json:"database,omitempty"`
	NATS      bool                              `json:"nats"`
	Cache     bool                              `json:"cache"`
	Responder string                            `json:"responder,omitempty"`
	Probe     map[string]health.ComponentStatus `json:"probe,omitempty"`
}

func (r validationResult) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Configuration source: %s\n", r.Source)
	if !r.Valid {
		sb.WriteString("✗ Configuration invalid\n")
		for _, p := range r.Errors {
			if p.Field != "" {
				fmt.Fprintf(&sb, "  - %s: %s\n", p.Field, p.Message)
			} else {
				fmt.Fprintf(&sb, "  - %s\n", p.Message)
			}
		}
		return strings.TrimRight(sb.String(), "\n")
	}

	sb.WriteString("✓ Configuration valid\n")
	fmt.Fprintf(&sb, "  Services: %d (%d routes)\n", len(r.Services), r.Routes)
	fmt.Fprintf(&sb, "  World state: %s\n", r.Database)
	fmt.Fprintf(&sb, "  NATS: %s\n", enabled(r.NATS))
	fmt.Fprintf(&sb, "  Response cache: %s\n", enabled(r.Cache))
	fmt.Fprintf(&sb, "  Chat responder: %s", r.Responder)

	if len(r.Probe) > 0 {
		sb.WriteString("\nService probe:")
		names := make([]string, 0, len(r.Probe))
		for name := range r.Probe {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			s := r.Probe[name]
			if s.Healthy() {
				fmt.Fprintf(&sb, "\n  ✓ %s (%s)", name, s.ResponseTime)
			} else {
				fmt.Fprintf(&sb, "\n  ✗ %s: %s", name, s.Error)
			}
		}
	}
	return sb.String()
}

func enabled(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}

func runValidate(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(validateFlags.format)
	if err != nil {
		return cli.NewConfigError("--format", err.Error())
	}

	result, cfg := validateConfig(cfgFile)
	if result.Valid && validateFlags.probe {
		report, err := probeServices(cmd.Context(), cfg)
		if err != nil {
			return cli.NewCommandError("validate", err)
		}
		result.Probe = report.Services
	}

	if err := cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), result); err != nil {
		return err
	}
	if !result.Valid {
		return cli.NewCommandError("validate", fmt.Errorf("%d configuration error(s)", len(result.Errors)))
	}
	return nil
}

func validateConfig(path string) (validationResult, *config.Config) {
	result := validationResult{Source: path}
	if path == "" {
		result.Source = "defaults + environment"
	}

	cfg, err := config.LoadConfigWithEnvOverrides(path)
	if err != nil {
		for _, ce := range cli.ConfigErrors(err) {
			result.Errors = append(result.Errors, fieldProblem{Field: ce.Field, Message: ce.Message})
		}
		return result, nil
	}

	result.Valid = true
	result.Services = cfg.Services
	result.Routes = len(cfg.Routes)
	result.Database = cfg.Database.Backend
	result.NATS = cfg.NATS.URL != ""
	result.Cache = cfg.Cache.Enabled
	result.Responder = cfg.Experience.Responder
	return result, cfg
}

func probeServices(ctx context.Context, cfg *config.Config) (health.Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	table, err := proxy.NewTable(cfg.Services, cfg.Routes)
	if err != nil {
		return health.Report{}, err
	}
	fwd := proxy.NewForwarder(table, proxy.OptionsFromConfig(cfg.Proxy), nil, nil)

	checker := health.New(cfg.Proxy.HealthTimeout)
	for _, name := range table.Services() {
		checker.RegisterService(name, fwd.HealthCheck(name))
	}
	return checker.Check(ctx), nil
}
