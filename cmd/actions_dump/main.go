// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// actions_dump inspects the assistant's staged-action store.
//
// Planned write actions persist in BadgerDB with a native TTL so they
// survive service restarts and expire on their own. This tool opens the
// data volume read-only and prints a human-readable summary of every
// action still held: owner, tool, status, preview, and the TTL remaining
// before BadgerDB evicts it. Useful when a confirm came back "not found"
// or "already executed" and you want to see what the store actually holds.
//
// Usage:
//
//	actions_dump [--path /path/to/data/volume]
//
// If --path is not given, reads ASSISTANT_DATA_DIR from the environment,
// falling back to ~/.aristai/assistant — the same resolution the server
// uses. Run it against a live volume only from the same machine; BadgerDB
// allows one process at a time, so prefer a stopped server or a copy.
//
// Exit codes:
//
//	0 — success (including "no actions" which prints a message and exits 0)
//	1 — error opening or reading the database
package main

import (
	"bytes"
	"encoding/gob"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/PeterGuk540/aristai-sub000/services/assistant/actions"
)

// actionKeyPrefix must match badger_store.go exactly.
const actionKeyPrefix = "assistant/action/v1/"

func main() {
	pathFlag := flag.String("path", "", "Path to the BadgerDB data volume (overrides ASSISTANT_DATA_DIR env var)")
	flag.Parse()

	dbPath := *pathFlag
	if dbPath == "" {
		dbPath = os.Getenv("ASSISTANT_DATA_DIR")
	}
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fatalf("cannot resolve home directory: %v", err)
		}
		dbPath = filepath.Join(home, ".aristai", "assistant")
	}

	fmt.Printf("Data volume path: %s\n", dbPath)

	// Check existence before trying to open — gives a cleaner error message
	// than BadgerDB's "no such file or directory" buried in a long error.
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("Data volume does not exist. The server has not yet staged any actions,")
		fmt.Println("or it is running on in-memory stores (ASSISTANT_DATA_DIR unset).")
		os.Exit(0)
	}

	// Open read-only; only reads are performed.
	opts := dgbadger.DefaultOptions(dbPath).
		WithLogger(nil). // suppress BadgerDB internal logs
		WithReadOnly(true)

	db, err := dgbadger.Open(opts)
	if err != nil {
		fatalf("open BadgerDB at %s: %v", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	// Collect all records under the action key prefix.
	type entry struct {
		id        string
		action    *actions.Action
		expiresAt time.Time
		hasExpiry bool
		rawSize   int
		decodeErr error
	}

	var entries []entry

	err = db.View(func(txn *dgbadger.Txn) error {
		iterOpts := dgbadger.DefaultIteratorOptions
		iterOpts.PrefetchValues = true
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		prefix := []byte(actionKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key())

			var e entry
			e.id = strings.TrimPrefix(key, actionKeyPrefix)

			// TTL: item.ExpiresAt() returns Unix seconds, 0 = no expiry.
			if expiresAt := item.ExpiresAt(); expiresAt > 0 {
				e.hasExpiry = true
				e.expiresAt = time.Unix(int64(expiresAt), 0)
			}

			raw, err := item.ValueCopy(nil)
			if err != nil {
				e.decodeErr = fmt.Errorf("copy value: %w", err)
				entries = append(entries, e)
				continue
			}
			e.rawSize = len(raw)

			action, err := decodeAction(raw)
			if err != nil {
				e.decodeErr = fmt.Errorf("gob decode: %w", err)
			} else {
				e.action = action
			}

			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		fatalf("read BadgerDB: %v", err)
	}

	if len(entries) == 0 {
		fmt.Println("\nNo staged actions found.")
		fmt.Println("Either nothing is pending, or every action has already hit its TTL —")
		fmt.Println("BadgerDB evicts expired records on its own.")
		os.Exit(0)
	}

	fmt.Printf("\nFound %d action%s:\n", len(entries), plural(len(entries), "", "s"))
	fmt.Println(strings.Repeat("─", 80))

	statusCounts := make(map[string]int)

	for i, e := range entries {
		fmt.Printf("\n[%d] Action:   %s\n", i+1, e.id)

		if e.hasExpiry {
			remaining := time.Until(e.expiresAt)
			if remaining < 0 {
				fmt.Printf("    TTL:      EXPIRED (%s ago)\n", (-remaining).Round(time.Second))
			} else {
				fmt.Printf("    TTL:      %s remaining (expires %s)\n",
					remaining.Round(time.Second),
					e.expiresAt.Format("2006-01-02 15:04:05 MST"),
				)
			}
		} else {
			fmt.Printf("    TTL:      no expiry set\n")
		}

		fmt.Printf("    Size:     %s\n", formatBytes(e.rawSize))

		if e.decodeErr != nil {
			fmt.Printf("    DECODE ERROR: %v\n", e.decodeErr)
			continue
		}

		a := e.action
		statusCounts[a.Status.String()]++

		fmt.Printf("    Tool:     %s\n", a.Tool)
		fmt.Printf("    Owner:    %s\n", a.Owner)
		fmt.Printf("    Status:   %s\n", a.Status)
		fmt.Printf("    Created:  %s (%s ago)\n",
			a.CreatedAt.Format("2006-01-02 15:04:05 MST"),
			time.Since(a.CreatedAt).Round(time.Second),
		)
		fmt.Printf("    Preview:  %s\n", a.Preview.Summary)
		if affected := formatAffected(a.Preview.Affected); affected != "" {
			fmt.Printf("    Affected: %s\n", affected)
		}
		fmt.Printf("    Result:   %s\n", describeResult(a.Result))
	}

	fmt.Printf("\n%s\n", strings.Repeat("─", 80))
	fmt.Printf("Summary: %d action%s (%s), data path: %s\n",
		len(entries), plural(len(entries), "", "s"), formatStatusCounts(statusCounts), dbPath)
}

// decodeAction deserializes an Action from gob-encoded bytes.
// Must match badger_store.go exactly.
func decodeAction(data []byte) (*actions.Action, error) {
	var a actions.Action
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

// formatAffected flattens the preview's affected counts into a stable
// "kind=n" line.
func formatAffected(affected map[string]int) string {
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
		parts = append(parts, fmt.Sprintf("%s=%d", kind, affected[kind]))
	}
	return strings.Join(parts, " ")
}

// describeResult reports whether a terminal result was recorded without
// dumping the payload itself.
func describeResult(result map[string]any) string {
	if len(result) == 0 {
		return "(none)"
	}
	return fmt.Sprintf("present (%d key%s)", len(result), plural(len(result), "", "s"))
}

// formatStatusCounts renders the per-status tally in a stable order.
func formatStatusCounts(counts map[string]int) string {
	statuses := make([]string, 0, len(counts))
	for status := range counts {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)

	parts := make([]string, 0, len(statuses))
	for _, status := range statuses {
		parts = append(parts, fmt.Sprintf("%s=%d", status, counts[status]))
	}
	return strings.Join(parts, " ")
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(n int) string {
	switch {
	case n >= 1024*1024:
		return fmt.Sprintf("%.1f MB (%d bytes)", float64(n)/1024/1024, n)
	case n >= 1024:
		return fmt.Sprintf("%.1f KB (%d bytes)", float64(n)/1024, n)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

// plural returns singular or plural suffix based on count.
func plural(n int, singular, pluralSuffix string) string {
	if n == 1 {
		return singular
	}
	return pluralSuffix
}

// fatalf prints to stderr and exits 1.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "actions_dump: "+format+"\n", args...)
	os.Exit(1)
}
