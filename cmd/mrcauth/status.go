// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MRC Auth Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

const statusTimeout = 2 * time.Second

// EndpointStatus is the result of probing one endpoint.
type EndpointStatus struct {
	Check   string `json:"check"`
	URL     string `json:"url"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
	Error   string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	jsonOutput  bool
	apiAddr     string
	metricsAddr string
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the health of a running mrcauth server",
		Long: `Check the API health endpoint and the liveness and readiness endpoints
of a running server. Addresses default to the loaded configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("api-addr") {
				cfg.apiAddr = loaded.HTTP.Addr
			}
			if !cmd.Flags().Changed("metrics-addr") {
				cfg.metricsAddr = loaded.Metrics.Addr
			}
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")
	cmd.Flags().StringVar(&cfg.apiAddr, "api-addr", "", "API address to check (default: http.addr)")
	cmd.Flags().StringVar(&cfg.metricsAddr, "metrics-addr", "", "metrics/health address to check (default: metrics.addr)")

	return cmd
}

// runStatus checks every endpoint and prints the results. It fails when
// any endpoint is unhealthy.
func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	client := resty.New().SetTimeout(statusTimeout)

	statuses := []EndpointStatus{checkAPI(ctx, client, cfg.apiAddr)}
	if cfg.metricsAddr != "" {
		statuses = append(statuses,
			checkText(ctx, client, "liveness", baseURL(cfg.metricsAddr)+"/healthz/liveness"),
			checkText(ctx, client, "readiness", baseURL(cfg.metricsAddr)+"/healthz/readiness"),
		)
	}

	var output string
	if cfg.jsonOutput {
		data, err := json.MarshalIndent(statuses, "", "  ")
		if err != nil {
			return oops.Code("STATUS_FORMAT_FAILED").Wrap(err)
		}
		output = string(data)
	} else {
		output = formatStatusTable(statuses)
	}
	cmd.Println(output)

	for _, s := range statuses {
		if !s.Healthy {
			return oops.Code("SERVER_UNHEALTHY").With("check", s.Check).Errorf("%s check failed", s.Check)
		}
	}
	return nil
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

func checkAPI(ctx context.Context, client *resty.Client, addr string) EndpointStatus {
	status := EndpointStatus{Check: "api", URL: baseURL(addr) + "/api/health"}

	var health healthResponse
	resp, err := client.R().SetContext(ctx).SetResult(&health).Get(status.URL)
	if err != nil {
		status.Error = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	if resp.IsError() {
		status.Error = resp.Status()
		return status
	}
	status.Healthy = health.Status == "healthy"
	status.Detail = strings.TrimSpace(health.Status + " " + health.Version)
	return status
}

func checkText(ctx context.Context, client *resty.Client, check, url string) EndpointStatus {
	status := EndpointStatus{Check: check, URL: url}

	resp, err := client.R().SetContext(ctx).Get(url)
	if err != nil {
		status.Error = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	status.Detail = strings.TrimSpace(resp.String())
	status.Healthy = !resp.IsError()
	if !status.Healthy {
		status.Error = resp.Status()
	}
	return status
}

// baseURL turns a listen address such as ":8080" into a URL a client can
// reach.
func baseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}

// formatStatusTable formats the results as a human-readable table.
func formatStatusTable(statuses []EndpointStatus) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "CHECK\tSTATUS\tDETAIL\tURL")
	_, _ = fmt.Fprintln(w, "-----\t------\t------\t---")
	for _, s := range statuses {
		state, detail := "ok", s.Detail
		if !s.Healthy {
			state = "failing"
			if s.Error != "" {
				detail = s.Error
			}
		}
		if detail == "" {
			detail = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Check, state, detail, s.URL)
	}

	_ = w.Flush()
	return buf.String()
}
