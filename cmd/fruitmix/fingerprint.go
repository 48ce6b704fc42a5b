package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/wisnuc/appifi-sub000/pkg/fingerprint"
)

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint <file>...",
	Short: "Print the content fingerprint of files",
	Long: `Compute the windowed fold hash fruitmix records for file content. Files
of 1 GiB or less hash to their plain SHA-256.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFingerprint,
}

func runFingerprint(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	for _, path := range args {
		fi, err := os.Stat(path)
		if err != nil {
			return err
		}
		hash, err := fingerprint.File(cmd.Context(), path, nil)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Fprintf(out, "%s  %8s  %s\n", hash, humanize.IBytes(uint64(fi.Size())), path)
	}
	return nil
}
