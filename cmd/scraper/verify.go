package main

import (
	"fmt"
	"os"

	"github.com/shanehull/listscraper/internal/checksum"

	"github.com/spf13/cobra"
)

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify FILE DIGEST",
		Short: "Check a downloaded file against a SHA-256 digest",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, expected := args[0], args[1]
			if !checksum.ValidHex(expected) {
				return fmt.Errorf("%q is not a SHA-256 hex digest", expected)
			}

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", path, err)
			}
			defer f.Close()

			result, actual, err := checksum.NewVerifier().Verify(f, expected)
			if err != nil {
				return fmt.Errorf("failed to hash %s: %w", path, err)
			}
			if result != checksum.Match {
				return fmt.Errorf("%w: %s is %s", errMismatch, path, actual)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "OK %s %s\n", actual, path)
			return nil
		},
	}
}
