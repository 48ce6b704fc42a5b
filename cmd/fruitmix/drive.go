package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/wisnuc/appifi-sub000/pkg/drive"
)

var driveCmd = &cobra.Command{
	Use:   "drive",
	Short: "Inspect and edit the drive list",
	Long: `Edit drives.json directly. A running server picks changes up on its next
start; use these commands while it is stopped.`,
}

var driveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List drives",
	Args:  cobra.NoArgs,
	RunE:  runDriveList,
}

var driveAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a private drive (--owner) or a public drive (--label)",
	Args:  cobra.NoArgs,
	RunE:  runDriveAdd,
}

var driveRemoveCmd = &cobra.Command{
	Use:   "remove <uuid>",
	Short: "Remove a drive from the list; its files stay on disk",
	Args:  cobra.ExactArgs(1),
	RunE:  runDriveRemove,
}

var (
	driveOwner string
	driveLabel string
)

func init() {
	driveAddCmd.Flags().StringVar(&driveOwner, "owner", "", "Owner user uuid of a private drive")
	driveAddCmd.Flags().StringVar(&driveLabel, "label", "", "Label of a public drive, writable and readable by everyone")
	driveAddCmd.MarkFlagsMutuallyExclusive("owner", "label")
	driveAddCmd.MarkFlagsOneRequired("owner", "label")

	driveCmd.AddCommand(driveListCmd)
	driveCmd.AddCommand(driveAddCmd)
	driveCmd.AddCommand(driveRemoveCmd)
}

func openDrives() (*drive.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return drive.Open(cfg.Storage.DrivesPath())
}

func runDriveList(cmd *cobra.Command, args []string) error {
	store, err := openDrives()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UUID\tTYPE\tOWNER / LABEL")
	for _, d := range store.Snapshot().Drives {
		who := d.Label
		if d.Kind == drive.KindPrivate {
			who = d.Owner.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.ID, d.Kind, who)
	}
	return tw.Flush()
}

func runDriveAdd(cmd *cobra.Command, args []string) error {
	store, err := openDrives()
	if err != nil {
		return err
	}

	var d drive.Drive
	if driveOwner != "" {
		owner, err := uuid.Parse(driveOwner)
		if err != nil {
			return fmt.Errorf("invalid owner: %w", err)
		}
		d = drive.NewPrivate(owner)
	} else {
		d = drive.NewPublic(driveLabel, drive.Everyone, drive.Everyone)
	}

	if err := store.Add(cmd.Context(), d); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), d.ID)
	return nil
}

func runDriveRemove(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid drive id: %w", err)
	}
	store, err := openDrives()
	if err != nil {
		return err
	}
	return store.Remove(cmd.Context(), id)
}
