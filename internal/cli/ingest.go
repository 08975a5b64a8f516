package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type IngestOptions struct {
	*RootOptions
	Timeout time.Duration

	// Client overrides the HTTP client in tests.
	Client *http.Client
}

type ingestRequest struct {
	Serial string  `json:"serial"`
	Type   string  `json:"type"`
	Value  float64 `json:"value"`
}

type ingestResponse struct {
	Measurement struct {
		ID       string `json:"id"`
		FlowerID string `json:"flowerId"`
	} `json:"measurement"`
	Delivered int `json:"delivered"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest <serial> <type> <value>",
		Short: "Post a reading as the device gateway would",
		Long: `Post one reading for a smart pot. The server stores it against the
flower the pot currently serves and relays it to live watchers.

Example:
  potwatch ingest SN001 humidity 41.5`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("invalid value %q: %w", args[2], err)
			}
			return runIngest(cmd.Context(), opts, ingestRequest{Serial: args[0], Type: args[1], Value: value}, cmd.OutOrStdout())
		},
	}

	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "request timeout")

	return cmd
}

func runIngest(ctx context.Context, opts *IngestOptions, reading ingestRequest, out io.Writer) error {
	httpClient := opts.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	body, err := json.Marshal(reading)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.Server+"/api/measurements", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+opts.Token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post measurement: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var failure errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&failure); err == nil && failure.Error.Message != "" {
			return fmt.Errorf("server rejected reading: %s (%s)", failure.Error.Message, failure.Error.Code)
		}
		return fmt.Errorf("server rejected reading: %s", resp.Status)
	}

	var result ingestResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	fmt.Fprintf(out, "%s %s for flower %s, delivered to %d watcher(s)\n",
		color.New(color.FgGreen).Sprint("stored"), result.Measurement.ID, result.Measurement.FlowerID, result.Delivered)
	return nil
}
