package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/recollect/collector/internal/cursor"
	"github.com/recollect/collector/internal/mailindex"
	"github.com/recollect/collector/internal/messages"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show collector cursor positions and last-run results",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	store, err := cursor.NewStore(cfg.StateDir())
	if err != nil {
		return fmt.Errorf("open state dir: %w", err)
	}

	for _, name := range []string{messages.StateName, mailindex.StateName} {
		st, err := store.Load(name)
		if err != nil {
			return fmt.Errorf("load %s state: %w", name, err)
		}

		fmt.Printf("%s:\n", name)
		fmt.Printf("  cursor:   %d\n", st.Cursor)
		fmt.Printf("  head:     %d\n", st.Head)
		fmt.Printf("  floor:    %d\n", st.Floor)
		if st.Head > st.Cursor {
			fmt.Printf("  backlog:  %d\n", st.Head-st.Cursor)
		}
		if st.LastRunAt != nil {
			fmt.Printf("  last run: %s (%s ago)\n",
				st.LastRunAt.Format(time.RFC3339),
				time.Since(*st.LastRunAt).Round(time.Second))
		} else {
			fmt.Printf("  last run: never\n")
		}
		if st.LastError != "" {
			fmt.Printf("  last error: %s\n", st.LastError)
		}
		if len(st.Files) > 0 {
			fmt.Printf("  tracked files: %d\n", len(st.Files))
		}
		fmt.Println()
	}
	return nil
}
