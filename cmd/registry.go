package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/neuronav/internal/registry"
)

func newInitCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create an empty data root",
		Long: `Creates the data root with an empty service list. The directory
must be missing or empty.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := registry.Initialize(e.cfg.Data.Root)
			if err != nil {
				return err
			}
			e.logger.Info("data root initialized", zap.String("root", reg.Root()))
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "initialized %s\n", reg.Root())
			return err
		},
	}
}

func newAddServiceCmd(e *env) *cobra.Command {
	var jsonPath string
	cmd := &cobra.Command{
		Use:   "add-service <name>",
		Short: "Register a service in the data root",
		Long: `Registers a named service. Without --json-path the service reads the
compressed neuroscope pages; with it the service serves raw JSON files from
<model>/<json-path>/l<layer>n<neuron>.json.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.Open(e.cfg.Data.Root)
			if err != nil {
				return err
			}
			svc := registry.Service{Name: args[0], Provider: registry.Neuroscope{}}
			if jsonPath != "" {
				svc.Provider = registry.JSONFiles{Path: jsonPath}
			}
			if err := reg.AddService(svc); err != nil {
				return err
			}
			e.logger.Info("service added", zap.String("service", svc.Name))
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "added service %s\n", svc.Name)
			return err
		},
	}
	cmd.Flags().StringVar(&jsonPath, "json-path", "", "serve raw JSON files from this subdirectory of each model")
	return cmd
}
