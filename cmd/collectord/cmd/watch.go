package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/recollect/collector/internal/watch"
)

var (
	watchPattern string
	watchLabel   string
	watchHandoff string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Manage watched directories on a running daemon",
}

var watchAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Register a directory for watching",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := json.Marshal(map[string]string{
			"path":    args[0],
			"pattern": watchPattern,
			"label":   watchLabel,
			"handoff": watchHandoff,
		})
		if err != nil {
			return err
		}

		var desc watch.Descriptor
		if err := daemonRequest(http.MethodPost, "/api/v1/watches", body, &desc); err != nil {
			return err
		}
		fmt.Printf("registered %s (%s)\n", desc.Path, desc.ID)
		return nil
	},
}

var watchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watched directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		var descs []watch.Descriptor
		if err := daemonRequest(http.MethodGet, "/api/v1/watches", nil, &descs); err != nil {
			return err
		}
		if len(descs) == 0 {
			fmt.Println("no watched directories")
			return nil
		}
		for _, d := range descs {
			pattern := d.Pattern
			if pattern == "" {
				pattern = "*"
			}
			fmt.Printf("%s  %s  pattern=%s", d.ID, d.Path, pattern)
			if d.Label != "" {
				fmt.Printf("  label=%s", d.Label)
			}
			fmt.Println()
		}
		return nil
	},
}

var watchRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Deregister a watched directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := daemonRequest(http.MethodDelete, "/api/v1/watches/"+args[0], nil, nil); err != nil {
			return err
		}
		fmt.Println("removed")
		return nil
	},
}

func init() {
	watchAddCmd.Flags().StringVar(&watchPattern, "pattern", "", `glob filter, e.g. "*.pdf" (empty matches everything)`)
	watchAddCmd.Flags().StringVar(&watchLabel, "label", "", "human-readable label")
	watchAddCmd.Flags().StringVar(&watchHandoff, "handoff", "", "handoff hint passed to the sink")
	watchCmd.AddCommand(watchAddCmd, watchListCmd, watchRemoveCmd)
	rootCmd.AddCommand(watchCmd)
}

// daemonRequest performs an authenticated request against the local
// daemon's API and decodes the JSON response into out when non-nil.
func daemonRequest(method, path string, body []byte, out interface{}) error {
	bindAddr := cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	url := "http://" + net.JoinHostPort(bindAddr, strconv.Itoa(cfg.Server.APIPort)) + path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cfg.Server.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Server.APIKey)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s (is `collectord serve` running?): %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon: %s: %s", apiErr.Error, apiErr.Message)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
