package main

import (
	"fmt"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"kubepilot/pkg/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config and store provider credentials",
	Long: `Creates .kubepilot/config.yaml with defaults and walks through
provider API keys. Keys are encrypted with a passphrase into
.kubepilot/secrets.json.enc; leave a key empty to skip that provider.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(_ *cobra.Command, _ []string) error {
	if err := config.WriteDefault(projectDir); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", filepath.Join(projectDir, config.ConfigDirName, config.ConfigFileName))

	if !term.IsTerminal(int(syscall.Stdin)) {
		fmt.Println("Non-interactive shell: set provider keys via environment variables.")
		return nil
	}

	secrets := map[string]string{}
	for _, envVar := range []string{
		config.EnvAnthropicAPIKey,
		config.EnvOpenAIAPIKey,
		config.EnvGoogleAPIKey,
	} {
		key, err := promptSecret(fmt.Sprintf("%s (empty to skip): ", envVar))
		if err != nil {
			return err
		}
		if key != "" {
			secrets[envVar] = key
		}
	}
	if len(secrets) == 0 {
		fmt.Println("No keys entered; relying on environment variables.")
		return nil
	}

	pass, err := promptSecret("Passphrase to encrypt secrets: ")
	if err != nil {
		return err
	}
	confirm, err := promptSecret("Confirm passphrase: ")
	if err != nil {
		return err
	}
	if pass != confirm {
		return fmt.Errorf("passphrases do not match")
	}

	if err := config.EncryptSecretsFile(projectDir, pass, secrets); err != nil {
		return err
	}
	fmt.Printf("Stored %d key(s) in %s\n", len(secrets),
		filepath.Join(projectDir, config.ConfigDirName, "secrets.json.enc"))
	return nil
}

func promptSecret(label string) (string, error) {
	fmt.Print(label)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(raw), nil
}
