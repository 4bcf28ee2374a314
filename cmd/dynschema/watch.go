package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/hatlonely/dynschema/changelog"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll the change log and print every clock change until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		var mu sync.Mutex
		report := func(marker changelog.Marker) {
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintln(out, marker)
		}
		w, err := manager.Watch(ctx, report)
		if err != nil {
			return err
		}
		report(w.LastSeen())
		<-ctx.Done()
		return nil
	},
}
