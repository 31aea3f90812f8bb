package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fedbroker/fedbroker/pkg/config"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Printf("Configuration valid: provider %s, store %s, federation %s\n",
				cfg.ProviderID, cfg.Store.Path, cfg.Federation.NATSURL)
			return nil
		},
	}
}
