package main

import (
	"fmt"

	"github.com/hatlonely/dynschema/changelog"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the most recent change log entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := manager.Changelog().History(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, e := range entries {
			params, err := e.DecodeParams()
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s", e.ID, e.Revision(), e.Stamp.Format("2006-01-02 15:04:05"), e.Batch, e.SQL)
			if len(params) > 0 {
				fmt.Fprintf(w, "\t%v", params)
			}
			fmt.Fprintln(w)
		}
		return nil
	},
}

var revisionsCmd = &cobra.Command{
	Use:   "revisions",
	Short: "Print the release history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		revisions, err := manager.Changelog().Revisions(cmd.Context())
		if err != nil {
			return err
		}
		for _, r := range revisions {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", r.Revision(), r.Stamp.Format("2006-01-02 15:04:05"), r.Summary)
		}
		return nil
	},
}

var bumpCmd = &cobra.Command{
	Use:   "bump <major|minor|rev> <summary>",
	Short: "Release a new revision; later statements are tagged with it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var level changelog.Level
		switch args[0] {
		case "major":
			level = changelog.LevelMajor
		case "minor":
			level = changelog.LevelMinor
		case "rev":
			level = changelog.LevelRev
		default:
			return errors.Errorf("unknown level %q, expected major, minor or rev", args[0])
		}
		rev, err := manager.Changelog().Bump(cmd.Context(), level, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), rev)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of entries, 0 for all")
}
