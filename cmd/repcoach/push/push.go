package pushcmder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/repcoach/cmd/repcoach/sqlitepath"
	"github.com/papercomputeco/repcoach/pkg/merkle"
)

const pushLongDesc string = `Push locally recorded conversations to a coach relay.

Reads all nodes from the local SQLite database and POSTs them
to the relay's /dag/nodes endpoint. Content-addressing ensures
duplicates are skipped on the relay side.

Examples:
  repcoach push http://192.168.1.42:8080
  repcoach push --sqlite ~/.repcoach/repcoach.sqlite http://localhost:8080`

const pushShortDesc string = "Push conversations to a coach relay"

type pushCommander struct {
	sqlitePath string
	batchSize  int
	httpClient *http.Client
}

type pushResponse struct {
	New       int `json:"new"`
	Duplicate int `json:"duplicate"`
	Errors    int `json:"errors"`
}

func NewPushCmd() *cobra.Command {
	cmder := &pushCommander{
		httpClient: &http.Client{Timeout: time.Minute},
	}

	cmd := &cobra.Command{
		Use:   "push <server-url>",
		Short: pushShortDesc,
		Long:  pushLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, args[0])
		},
	}

	cmd.Flags().StringVarP(&cmder.sqlitePath, "sqlite", "s", "", "Path to local SQLite database")
	cmd.Flags().IntVar(&cmder.batchSize, "batch-size", 500, "Nodes per HTTP request")

	return cmd
}

func (c *pushCommander) run(ctx context.Context, cmd *cobra.Command, serverURL string) error {
	if c.batchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.batchSize)
	}
	serverURL = strings.TrimRight(serverURL, "/")

	dbPath, err := sqlitepath.ResolveSQLitePath(c.sqlitePath)
	if err != nil {
		return fmt.Errorf("could not resolve local database: %w", err)
	}

	storer, err := merkle.NewSQLiteStorer(dbPath)
	if err != nil {
		return fmt.Errorf("could not open local database %s: %w", dbPath, err)
	}
	defer storer.Close()

	nodes, err := storer.List(ctx)
	if err != nil {
		return fmt.Errorf("could not list local nodes: %w", err)
	}

	if len(nodes) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No local nodes to push.")
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Pushing %d nodes from %s to %s\n", len(nodes), dbPath, serverURL)

	var totalNew, totalDup, totalErr int

	for i := 0; i < len(nodes); i += c.batchSize {
		end := min(i+c.batchSize, len(nodes))
		batch := nodes[i:end]

		resp, err := c.postBatch(ctx, serverURL, batch)
		if err != nil {
			return fmt.Errorf("push failed on batch %d-%d: %w", i, end-1, err)
		}

		totalNew += resp.New
		totalDup += resp.Duplicate
		totalErr += resp.Errors
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Pushed %d new nodes (%d already existed, %d errors)\n",
		totalNew, totalDup, totalErr)

	return nil
}

func (c *pushCommander) postBatch(ctx context.Context, serverURL string, nodes []*merkle.Node) (*pushResponse, error) {
	body, err := json.Marshal(nodes)
	if err != nil {
		return nil, fmt.Errorf("could not marshal nodes: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/dag/nodes", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result pushResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("could not decode response: %w", err)
	}

	return &result, nil
}
