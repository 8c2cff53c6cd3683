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
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/PeterGuk540/aristai-sub000/services/assistant/results"
)

// turnReply mirrors the server's conversation turn response.
type turnReply struct {
	Text     string            `json:"text"`
	State    string            `json:"state"`
	Options  []string          `json:"options,omitempty"`
	Envelope *results.Envelope `json:"envelope,omitempty"`
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the assistant interactively",
	Long: `Opens an interactive conversation. The assistant fills in missing
tool arguments by asking follow-up questions, and staged writes are
confirmed in the conversation itself. Type 'exit' to quit and 'reset'
to drop the conversation context and start over.`,
	Run: runChatCommand,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChatCommand(_ *cobra.Command, args []string) {
	if len(args) > 0 {
		fmt.Printf("Warning: Unexpected arguments ignored: %v\n", args)
		fmt.Println("Use 'assistantctl chat --help' to see available flags.")
	}

	baseURL := getAssistantBaseURL()
	fmt.Println("AristAI assistant. Type 'exit' to quit, 'reset' to start the conversation over.")

	// Restore the cursor if an interrupt lands mid-spinner.
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-interrupt
		fmt.Print("\033[?25h\n")
		os.Exit(0)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		switch strings.ToLower(input) {
		case "exit", "quit", "q":
			return
		case "reset":
			if err := resetConversation(baseURL); err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			fmt.Println("Context cleared.")
			continue
		}

		stop := startSpinner("Thinking")
		reply, err := sendTurn(baseURL, input)
		stop()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		fmt.Println(reply.Text)
	}
}

// sendTurn posts one utterance to the conversation endpoint.
//
// # Inputs
//
//   - baseURL: Assistant server base URL.
//   - input: The user's utterance for this turn.
//
// # Outputs
//
//   - turnReply: The assistant's reply, with state and any tool envelope.
//   - error: Non-nil on transport failure or a non-200 response.
func sendTurn(baseURL, input string) (turnReply, error) {
	var reply turnReply
	postBody, err := json.Marshal(map[string]interface{}{
		"actor_id": actorID,
		"input":    input,
	})
	if err != nil {
		return reply, fmt.Errorf("failed to create request body: %w", err)
	}

	targetURL := fmt.Sprintf("%s/v1/assistant/conversation/turn", baseURL)
	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Post(targetURL, "application/json", bytes.NewBuffer(postBody))
	if err != nil {
		return reply, fmt.Errorf("failed to reach assistant server: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Error("failed to close response body", "error", closeErr)
		}
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return reply, fmt.Errorf("failed to read server response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return reply, fmt.Errorf("assistant returned an error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	if err := json.Unmarshal(bodyBytes, &reply); err != nil {
		log.Printf("Raw response from assistant: %s", string(bodyBytes))
		return reply, fmt.Errorf("failed to parse server response: %w", err)
	}
	return reply, nil
}

// resetConversation drops the actor's conversation context on the server.
// Staged actions are untouched; they expire on their own.
func resetConversation(baseURL string) error {
	targetURL := fmt.Sprintf("%s/v1/assistant/conversation?actor_id=%s", baseURL, url.QueryEscape(actorID))
	req, err := http.NewRequest(http.MethodDelete, targetURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach assistant server: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Error("failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("assistant returned an error (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}
