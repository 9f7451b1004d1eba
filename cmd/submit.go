package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/1k-7/LNreqnw/internal/inbox"
)

// newSubmitCmd creates the 'submit' subcommand, which sends a batch to a
// running instance over the admin API.
func newSubmitCmd() *cobra.Command {
	var addr string
	var file string

	cmd := &cobra.Command{
		Use:   "submit [url ...]",
		Short: "Submit a batch of novel URLs to a running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := args
			if file != "" {
				fromFile, err := inbox.ParseFile(file)
				if err != nil {
					return err
				}
				ids = append(ids, fromFile...)
			}
			if len(ids) == 0 {
				return errors.New("no URLs given: pass them as arguments or via --file")
			}
			return submitBatch(addr, ids, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "admin API address")
	cmd.Flags().StringVar(&file, "file", "", "read URLs from a batch file (JSON or one per line)")
	return cmd
}

func submitBatch(addr string, ids []string, out io.Writer) error {
	body, err := json.Marshal(map[string][]string{"identifiers": ids})
	if err != nil {
		return errors.Wrap(err, "encode batch")
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(addr+"/v1/batches", "application/json", bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "submit batch")
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusAccepted {
		return errors.Newf("batch rejected (%d): %s", resp.StatusCode, bytes.TrimSpace(payload))
	}
	fmt.Fprintf(out, "accepted %d identifiers\n", len(ids))
	return nil
}
