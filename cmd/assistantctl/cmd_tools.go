// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// toolsVerbose holds the flag value for the tools command.
var toolsVerbose bool

// toolField mirrors one schema field in the server's catalog response.
type toolField struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Prompt   string `json:"prompt,omitempty"`
}

// toolEntry mirrors one catalog entry in the server's catalog response.
type toolEntry struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Mode        string      `json:"mode"`
	Category    string      `json:"category"`
	Fields      []toolField `json:"fields"`
}

// toolCatalogResponse mirrors the server's tool listing body.
type toolCatalogResponse struct {
	Tools []toolEntry `json:"tools"`
	Count int         `json:"count"`
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the registered tool catalog",
	Long: `Lists every registered tool with its mode and category. Read tools
execute immediately; write tools stage an action that must be confirmed.
With --verbose, each tool's argument schema is shown as well.`,
	Run: runToolsCommand,
}

func init() {
	toolsCmd.Flags().BoolVarP(&toolsVerbose, "verbose", "v", false, "Show each tool's argument schema")
	rootCmd.AddCommand(toolsCmd)
}

func runToolsCommand(_ *cobra.Command, _ []string) {
	catalog, err := fetchToolCatalog(getAssistantBaseURL())
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	if toolsVerbose {
		printToolSchemas(catalog.Tools)
	} else {
		printToolTable(catalog.Tools)
	}
	fmt.Printf("\n%d tools registered.\n", catalog.Count)
}

func printToolTable(entries []toolEntry) {
	fmt.Printf("%-20s %-6s %-12s %s\n", "NAME", "MODE", "CATEGORY", "DESCRIPTION")
	for _, tool := range entries {
		fmt.Printf("%-20s %-6s %-12s %s\n", tool.Name, tool.Mode, tool.Category, tool.Description)
	}
}

func printToolSchemas(entries []toolEntry) {
	for _, tool := range entries {
		fmt.Printf("%s  (%s, %s)\n", tool.Name, tool.Mode, tool.Category)
		fmt.Printf("  %s\n", tool.Description)
		for _, field := range tool.Fields {
			requirement := "optional"
			if field.Required {
				requirement = "required"
			}
			fmt.Printf("    %-14s %-8s %-9s %s\n", field.Name, field.Type, requirement, field.Prompt)
		}
		fmt.Println()
	}
}

// fetchToolCatalog retrieves the planner contract from the server.
//
// # Inputs
//
//   - baseURL: Assistant server base URL.
//
// # Outputs
//
//   - toolCatalogResponse: The registered tools, planner-ordered.
//   - error: Non-nil on transport failure or a non-200 response.
func fetchToolCatalog(baseURL string) (toolCatalogResponse, error) {
	var catalog toolCatalogResponse
	targetURL := fmt.Sprintf("%s/v1/assistant/tools", baseURL)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(targetURL)
	if err != nil {
		return catalog, fmt.Errorf("failed to reach assistant server: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Error("failed to close response body", "error", closeErr)
		}
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return catalog, fmt.Errorf("failed to read server response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return catalog, fmt.Errorf("assistant returned an error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	if err := json.Unmarshal(bodyBytes, &catalog); err != nil {
		log.Printf("Raw response from assistant: %s", string(bodyBytes))
		return catalog, fmt.Errorf("failed to parse server response: %w", err)
	}
	return catalog, nil
}
