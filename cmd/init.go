package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// initForceFlag overwrites an existing configuration file.
var initForceFlag bool

// initCmd represents the init command.
var initCmd = newInitCmd()

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a default gremlins.yaml configuration file",
		Long: `Create a gremlins.yaml in the current working directory populated with
the current CLI defaults so it can be edited manually.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			targetPath := filepath.Join(configFolderPath, configFileName)

			write := viper.SafeWriteConfigAs
			if initForceFlag {
				write = viper.WriteConfigAs
			}
			if err := write(targetPath); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}

			cmd.Println("Wrote", targetPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&initForceFlag, "force", false, "overwrite an existing configuration file")
	return cmd
}

func init() {
	rootCmd.AddCommand(initCmd)
}
