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
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/PeterGuk540/aristai-sub000/services/assistant/results"
)

// runArgPairs and runYes hold flag values for the run command.
var (
	runArgPairs []string
	runYes      bool
)

// envelopeResponse mirrors the server's wrapper around tool and action
// results.
type envelopeResponse struct {
	Envelope results.Envelope `json:"envelope"`
}

var runCmd = &cobra.Command{
	Use:   "run <tool>",
	Short: "Run a tool by name",
	Long: `Runs a registered tool. Read tools execute immediately and print
their result. Write tools stage an action: the preview is shown and you
are asked to proceed. Anything but an explicit yes cancels the action;
pass --yes to confirm without prompting. When stdin is not a terminal
the action is left staged for a later confirm or cancel.`,
	Args: cobra.ExactArgs(1),
	Run:  runRunCommand,
}

var confirmCmd = &cobra.Command{
	Use:   "confirm <action-id>",
	Short: "Execute a staged write action",
	Args:  cobra.ExactArgs(1),
	Run:   runConfirmCommand,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <action-id>",
	Short: "Discard a staged write action",
	Args:  cobra.ExactArgs(1),
	Run:   runCancelCommand,
}

func init() {
	runCmd.Flags().StringArrayVar(&runArgPairs, "arg", nil, "Tool argument as key=value (repeatable)")
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "Confirm staged writes without prompting")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(confirmCmd)
	rootCmd.AddCommand(cancelCmd)
}

func runRunCommand(_ *cobra.Command, args []string) {
	toolName := args[0]
	arguments, err := parseToolArguments(runArgPairs)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	baseURL := getAssistantBaseURL()
	stop := startSpinner("Running " + toolName)
	env, err := postEnvelope(fmt.Sprintf("%s/v1/assistant/tools/execute", baseURL), map[string]interface{}{
		"tool_name": toolName,
		"arguments": arguments,
		"actor_id":  actorID,
	}, 2*time.Minute)
	stop()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	if env.Type == results.TypePlan {
		settleStagedAction(baseURL, env)
		return
	}
	printEnvelope(env)
}

func runConfirmCommand(_ *cobra.Command, args []string) {
	resolveStagedAction(getAssistantBaseURL(), args[0], "confirm")
}

func runCancelCommand(_ *cobra.Command, args []string) {
	resolveStagedAction(getAssistantBaseURL(), args[0], "cancel")
}

// settleStagedAction shows a staged write's preview and decides its fate:
// --yes confirms outright, a terminal prompts, and a pipe leaves the action
// staged with the follow-up commands printed.
func settleStagedAction(baseURL string, env results.Envelope) {
	actionID, _ := env.Data["action_id"].(string)
	if actionID == "" {
		log.Fatalf("Error: staged response is missing the action id")
	}

	fmt.Printf("Staged: %s\n", env.Summary)
	if affected := formatAffected(env.Data); affected != "" {
		fmt.Printf("  Affected: %s\n", affected)
	}
	fmt.Printf("  Action ID: %s\n", actionID)

	if runYes {
		resolveStagedAction(baseURL, actionID, "confirm")
		return
	}

	if !isatty.IsTerminal(os.Stdin.Fd()) {
		fmt.Println("\nNot a terminal; leaving the action staged. Settle it with:")
		fmt.Printf("  assistantctl confirm %s\n", actionID)
		fmt.Printf("  assistantctl cancel %s\n", actionID)
		return
	}

	fmt.Print("\nProceed? [y/N]: ")
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		fmt.Println()
		resolveStagedAction(baseURL, actionID, "cancel")
		return
	}
	switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
	case "y", "yes":
		resolveStagedAction(baseURL, actionID, "confirm")
	default:
		// Anything but an explicit yes discards the staged write.
		resolveStagedAction(baseURL, actionID, "cancel")
	}
}

// resolveStagedAction settles a staged action; verb is "confirm" or "cancel".
func resolveStagedAction(baseURL, actionID, verb string) {
	msg := "Confirming"
	if verb == "cancel" {
		msg = "Cancelling"
	}

	stop := startSpinner(msg)
	env, err := postEnvelope(fmt.Sprintf("%s/v1/assistant/actions/%s/%s", baseURL, actionID, verb), map[string]interface{}{
		"actor_id": actorID,
	}, 2*time.Minute)
	stop()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	printEnvelope(env)
}

// printEnvelope renders a terminal envelope: the summary line, then the
// payload as indented JSON. Failure envelopes exit non-zero.
func printEnvelope(env results.Envelope) {
	if !env.OK {
		fmt.Printf("Error: %s\n", env.Summary)
		os.Exit(1)
	}
	fmt.Println(env.Summary)
	if len(env.Data) > 0 {
		pretty, err := json.MarshalIndent(env.Data, "", "  ")
		if err == nil {
			fmt.Println(string(pretty))
		}
	}
}

// formatAffected flattens a plan preview's affected counts into a stable
// "kind=n" line, e.g. "enrollments=12 sessions=3".
func formatAffected(data map[string]any) string {
	preview, _ := data["preview"].(map[string]any)
	if preview == nil {
		return ""
	}
	affected, _ := preview["affected"].(map[string]any)
	if len(affected) == 0 {
		return ""
	}

	kinds := make([]string, 0, len(affected))
	for kind := range affected {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	parts := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		if n, ok := affected[kind].(float64); ok {
			parts = append(parts, fmt.Sprintf("%s=%d", kind, int(n)))
		}
	}
	return strings.Join(parts, " ")
}

// parseToolArguments turns repeated --arg key=value flags into an argument
// map.
func parseToolArguments(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	args := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("argument %q is not key=value", pair)
		}
		args[key] = parseArgValue(value)
	}
	return args, nil
}

// parseArgValue types a raw flag value the way a JSON client would: numbers
// and booleans are sent as such, everything else stays a string.
func parseArgValue(raw string) any {
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

// postEnvelope sends a JSON payload and decodes the envelope wrapper the
// assistant returns from its tool and action endpoints.
//
// # Inputs
//
//   - targetURL: Full endpoint URL.
//   - payload: Request body, marshaled as JSON.
//   - timeout: Per-request client timeout.
//
// # Outputs
//
//   - results.Envelope: The decoded result, plan, or error envelope.
//   - error: Non-nil on transport failure or a non-200 response.
func postEnvelope(targetURL string, payload any, timeout time.Duration) (results.Envelope, error) {
	var wrapper envelopeResponse
	postBody, err := json.Marshal(payload)
	if err != nil {
		return wrapper.Envelope, fmt.Errorf("failed to create request body: %w", err)
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Post(targetURL, "application/json", bytes.NewBuffer(postBody))
	if err != nil {
		return wrapper.Envelope, fmt.Errorf("failed to reach assistant server: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Error("failed to close response body", "error", closeErr)
		}
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return wrapper.Envelope, fmt.Errorf("failed to read server response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return wrapper.Envelope, fmt.Errorf("assistant returned an error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	if err := json.Unmarshal(bodyBytes, &wrapper); err != nil {
		log.Printf("Raw response from assistant: %s", string(bodyBytes))
		return wrapper.Envelope, fmt.Errorf("failed to parse server response: %w", err)
	}
	return wrapper.Envelope, nil
}
