package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func newConfigCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect ThreatPulse configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			if path := v.GetString("config"); path != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Configuration file: %s\n", path)
			} else {
				fmt.Fprintln(cmd.ErrOrStderr(), "No configuration file given (using defaults)")
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and report every problem",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("configuration invalid:\n%w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration valid (sources: %v)\n", cfg.EnabledSources())
			return nil
		},
	}

	cmd.AddCommand(show, validate)
	return cmd
}
