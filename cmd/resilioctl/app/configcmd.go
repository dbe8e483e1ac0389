package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/camerontarget14/resilio-connect-scripts/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration and encrypt secrets",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := loadConfigStore(newLogger())
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(store.Masked())
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	encryptCmd := &cobra.Command{
		Use:   "encrypt VALUE",
		Short: "Encrypt a secret for use in the config file",
		Long: `encrypt prints VALUE encrypted with the local secret key, creating the key
on first use. Paste the "enc:" output into console.token, storage.secret_key or
notify.auth_token.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keyPath, _ := cmd.Flags().GetString("key")
			key, err := config.NewSecretKey(keyPath)
			if err != nil {
				return err
			}
			enc, err := key.Encrypt(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), enc)
			return nil
		},
	}
	encryptCmd.Flags().String("key", config.DefaultKeyPath(), "Path to the secret key file")

	cmd.AddCommand(showCmd, encryptCmd)
	return cmd
}
