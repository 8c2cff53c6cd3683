// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command assistantctl is a terminal client for the assistant server.
//
// Usage:
//
//	assistantctl tools                          # tool catalog
//	assistantctl tools --verbose                # catalog with field schemas
//	assistantctl run list_courses
//	assistantctl run create_course --arg title="Intro to Go" --arg credits=3
//	assistantctl confirm <action-id>            # execute a staged write
//	assistantctl cancel <action-id>             # discard a staged write
//	assistantctl chat                           # interactive conversation
//
// The server address comes from --server, then ASSISTANT_URL, then
// http://localhost:8080. Write tools never execute directly: running one
// stages an action and prints its preview, and the action runs only after
// an explicit confirm. Unsettled actions quietly expire on the server.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// serverURL and actorID hold the persistent flag values shared by every
// subcommand.
var (
	serverURL string
	actorID   string
)

var rootCmd = &cobra.Command{
	Use:     "assistantctl",
	Version: "0.1.0",
	Short:   "Terminal client for the assistant server",
	Long: `assistantctl drives the assistant's HTTP API from the terminal:
list the tool catalog, run tools, settle staged write actions, and hold
an interactive conversation.

Write tools never execute directly. Running one stages an action and
prints its preview; the action executes only after an explicit confirm
and quietly expires if nobody settles it.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "",
		"Assistant server base URL (default $ASSISTANT_URL or http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&actorID, "actor", "",
		"Actor identity for staged-action ownership (default anonymous)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// getAssistantBaseURL resolves the server address: the --server flag wins,
// then ASSISTANT_URL, then the local default.
func getAssistantBaseURL() string {
	if serverURL != "" {
		return strings.TrimRight(serverURL, "/")
	}
	if env := os.Getenv("ASSISTANT_URL"); env != "" {
		return strings.TrimRight(env, "/")
	}
	return "http://localhost:8080"
}

// startSpinner launches the wait animation when stdout is a terminal. The
// returned stop function clears the line and blocks until the spinner has
// restored the cursor; when output is piped it is a no-op.
func startSpinner(msg string) func() {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return func() {}
	}
	done := make(chan bool)
	finished := make(chan struct{})
	go func() {
		showSpinner(msg, done)
		close(finished)
	}()
	return func() {
		close(done)
		<-finished
	}
}

// showSpinner displays the animation + elapsed time until done closes.
func showSpinner(msg string, done chan bool) {
	chars := []string{"▖", "▘", "▝", "▗"}
	i := 0
	start := time.Now()

	// Hide the cursor while animating
	fmt.Print("\033[?25l")
	defer fmt.Print("\033[?25h") // Restore cursor on exit

	for {
		select {
		case <-done:
			// \r = return to start of line, \033[K = clear to end of line
			fmt.Print("\r\033[K")
			return
		default:
			fmt.Printf("\r%s  %s... [%s] \033[K", chars[i%len(chars)], msg, time.Since(start).Round(time.Second))
			i++
			time.Sleep(100 * time.Millisecond)
		}
	}
}
