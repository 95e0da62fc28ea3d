// Package cli implements threatctl, the operator command line.
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lvonguyen/threatpulse/internal/config"
)

// EnvPrefix prefixes every environment override, e.g. THREATPULSE_DAYS.
const EnvPrefix = "THREATPULSE"

// NewRootCommand builds the threatctl command tree. Settings resolve from
// flags, then THREATPULSE_* environment variables, then the config file,
// then defaults.
func NewRootCommand(version string) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "threatctl",
		Short: "ThreatPulse - OSINT escalation scoring toolkit",
		Long: `threatctl inspects ThreatPulse configuration and scores signal
batches offline with the same engine the server runs.

Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (THREATPULSE_*)
3. Config file (--config)
4. Defaults`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().String("config", "", "config file (default: built-in defaults)")
	root.PersistentFlags().String("log-level", "", "override logging.level (debug, info, warn, error)")
	_ = v.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("log-level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(
		newVersionCommand(version),
		newConfigCommand(v),
		newTargetsCommand(v),
		newScoreCommand(v),
	)
	return root
}

// Execute runs threatctl with the process arguments.
func Execute(version string) error {
	return NewRootCommand(version).Execute()
}

func newVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "threatctl %s\n", version)
		},
	}
}

func newTargetsCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List scoreable targets and their query keywords",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, t := range cfg.Targets() {
				fmt.Fprintf(out, "%-12s %s\n", t, strings.Join(cfg.Sources.Targets[t].Keywords, ", "))
			}
			return nil
		},
	}
}

// loadConfig reads the config file named by --config or THREATPULSE_CONFIG,
// falling back to defaults, and applies overrides.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path := v.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if level := v.GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	return cfg, nil
}
