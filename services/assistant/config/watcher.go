// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// PhraseWatcher re-applies a phrase override file whenever it changes on
// disk. Create one per process and Stop it on shutdown.
type PhraseWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

// WatchPhraseOverride applies the override file at path and keeps it
// applied: edits reload it, deleting it restores the built-in defaults,
// and a file that fails validation is rejected while the previous config
// stays in effect.
//
// The file does not have to exist yet; the watcher picks it up when it
// appears. The parent directory must exist, since that is what is watched
// (editors and config pushes replace files by rename, which would drop a
// file-level watch).
func WatchPhraseOverride(path string, logger *slog.Logger) (*PhraseWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("WatchPhraseOverride: path must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	path = filepath.Clean(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("WatchPhraseOverride: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("WatchPhraseOverride: watching %s: %w", filepath.Dir(path), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	pw := &PhraseWatcher{
		path:    path,
		watcher: w,
		logger:  logger,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	if _, err := ApplyPhraseOverride(ctx, path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Info("phrase override not present yet; using built-in defaults",
				slog.String("path", path))
		} else {
			logger.Warn("phrase override rejected at startup; using built-in defaults",
				slog.String("path", path), slog.Any("error", err))
		}
	}

	go pw.loop(ctx)
	return pw, nil
}

// Stop shuts down the watcher and waits for its loop to exit. Safe for
// repeated use.
func (pw *PhraseWatcher) Stop() {
	pw.cancel()
	_ = pw.watcher.Close()
	<-pw.done
}

func (pw *PhraseWatcher) loop(ctx context.Context) {
	defer close(pw.done)
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != pw.path {
				continue
			}
			// Chmod-only events carry no content change.
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			pw.reload(ctx)

		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			pw.logger.Warn("phrase watcher error", slog.Any("error", err))
		}
	}
}

// reload re-applies the override. A vanished file restores the defaults;
// any other failure keeps the previous config so a bad edit never takes
// down a working one.
func (pw *PhraseWatcher) reload(ctx context.Context) {
	if _, err := ApplyPhraseOverride(ctx, pw.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			ResetPhraseConfig()
			pw.logger.Info("phrase override removed; defaults restored",
				slog.String("path", pw.path))
			return
		}
		pw.logger.Warn("phrase override rejected; keeping previous config",
			slog.String("path", pw.path), slog.Any("error", err))
	}
}
