package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/wisnuc/appifi-sub000/pkg/identity"
)

var statCmd = &cobra.Command{
	Use:   "stat <path>...",
	Short: "Show the identity record of files and directories",
	Long: `Read, and if needed materialize, the persistent identity of each path.
A stale hash is reported as missing.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStat,
}

func runStat(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	for _, path := range args {
		st, err := identity.ReadIdentifiedStat(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		mtime := time.UnixMilli(st.ModTime)

		fmt.Fprintf(out, "Path:     %s\n", path)
		fmt.Fprintf(out, "ID:       %s\n", st.ID)
		if st.IsDir() {
			fmt.Fprintf(out, "Type:     directory\n")
		} else {
			fmt.Fprintf(out, "Type:     file\n")
			fmt.Fprintf(out, "Size:     %s\n", humanize.IBytes(uint64(st.Size)))
			if st.Magic.Tag != "" {
				fmt.Fprintf(out, "Magic:    %s\n", st.Magic.Tag)
			}
			hash := st.Hash
			if hash == "" {
				hash = "-"
			}
			fmt.Fprintf(out, "Hash:     %s\n", hash)
		}
		fmt.Fprintf(out, "Modified: %s (%s)\n\n", mtime.Format(time.RFC3339), humanize.Time(mtime))
	}
	return nil
}
