package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/anstrom/reconradar/internal/auth"
)

var apiKeyHashOnly string

var apiKeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Generate an API key for the dashboard API",
	Long: `Generate a random API key and the bcrypt hash to put in api.api_key_hash.
The key itself is printed once and never stored. --hash hashes an existing key.`,
	Example: `  reconradar apikey
  reconradar apikey --hash rr_existingkey...`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runAPIKey(cmd.OutOrStdout(), apiKeyHashOnly, auth.BcryptCost)
	},
}

func init() {
	rootCmd.AddCommand(apiKeyCmd)
	apiKeyCmd.Flags().StringVar(&apiKeyHashOnly, "hash", "", "hash this key instead of generating one")
}

func runAPIKey(w io.Writer, existing string, cost int) error {
	if existing != "" {
		hash, err := auth.HashAPIKey(existing, cost)
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(w, map[string]string{"hash": hash})
		}
		fmt.Fprintln(w, hash)
		return nil
	}

	generated, err := auth.GenerateAPIKey(cost)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(w, generated)
	}

	fmt.Fprintf(w, "API key:  %s\n", generated.Key)
	fmt.Fprintf(w, "Hash:     %s\n\n", generated.Hash)
	fmt.Fprintln(w, "Add to config.yaml (the key is not shown again):")
	fmt.Fprintf(w, "api:\n  api_key_hash: %q\n", generated.Hash)
	return nil
}
