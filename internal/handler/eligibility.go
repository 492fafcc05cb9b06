package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gmg-media/newspassid/internal/model"
	"github.com/gmg-media/newspassid/internal/npid"
	"github.com/gmg-media/newspassid/internal/storage"
)

// pageviewWindow is how far back pageviews count toward the SDK-load threshold.
const pageviewWindow = 30 * 24 * time.Hour

// ShouldLoadSDK decides whether the heavier audience SDK is loaded for this
// visitor. The decision is read-only and idempotent: identical inputs
// against identical storage state always yield the same answer.
//
// Fail-closed: a missing config blob means the SDK never loads.
func ShouldLoadSDK(ctx context.Context, store storage.ObjectStore, idFolder, id, rawURL string, now time.Time) (bool, error) {
	data, err := store.Get(ctx, storage.ConfigKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("read runtime config: %w", err)
	}
	var cfg model.RuntimeConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return false, fmt.Errorf("parse runtime config: %w", err)
	}

	for _, allowed := range cfg.AlwaysLoadSDKAllowList {
		if allowed == rawURL {
			return true, nil
		}
	}

	domain := npid.DomainFromURL(rawURL)
	count, err := countRecentPageviews(ctx, store, idFolder, domain, id, now)
	if err != nil {
		return false, err
	}
	return count >= cfg.PageViewThreshold, nil
}

// countRecentPageviews counts stored event logs for (domain, id) whose
// filename timestamp falls inside the pageview window. A missing prefix
// counts as zero.
func countRecentPageviews(ctx context.Context, store storage.ObjectStore, idFolder, domain, id string, now time.Time) (int, error) {
	keys, err := store.ListKeys(ctx, storage.PageviewPrefix(idFolder, domain, id))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("list pageviews: %w", err)
	}
	cutoff := now.Add(-pageviewWindow).UnixMilli()
	count := 0
	for _, key := range keys {
		name := strings.TrimSuffix(path.Base(key), path.Ext(key))
		ts, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			continue
		}
		if ts >= cutoff {
			count++
		}
	}
	return count, nil
}
