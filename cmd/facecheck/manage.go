package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facecheck/pkg/gallery"
	"github.com/MrCodeEU/facecheck/pkg/logging"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled identities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store gallery.Store) error {
			infos, err := store.ListIdentities(cmd.Context())
			if err != nil {
				return err
			}
			return printIdentities(cmd, infos)
		})
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <identity>",
	Short: "Remove an identity and all its templates",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store gallery.Store) error {
			if err := store.DeleteIdentity(cmd.Context(), args[0]); err != nil {
				return err
			}
			logging.Infof("Removed identity: %s", args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "Face data for '%s' has been removed.\n", args[0])
			return nil
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear <identity>",
	Short: "Drop an identity's templates so it can be retrained",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store gallery.Store) error {
			if err := store.ClearIdentity(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Templates for '%s' have been cleared.\n", args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(listCmd, removeCmd, clearCmd)
}

// withStore runs fn against the configured gallery without loading any
// recognition models.
func withStore(cmd *cobra.Command, fn func(gallery.Store) error) error {
	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("failed to open gallery: %w", err)
	}
	defer func() { _ = store.Close() }()
	return fn(store)
}

func printIdentities(cmd *cobra.Command, infos []gallery.IdentityInfo) error {
	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No identities enrolled.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tPOSES\tCOMPLETE\tUPDATED")
	fmt.Fprintln(w, "--------\t-----\t--------\t-------")
	for _, info := range infos {
		poses := strings.Join(info.Poses, ",")
		if poses == "" {
			poses = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", info.Key, poses, info.Complete, info.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nTotal: %d identity(ies)\n", len(infos))
	return nil
}
