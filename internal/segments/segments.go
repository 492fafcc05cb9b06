// Package segments handles the audience segment table and the key-value
// view the ad stack consumes.
package segments

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gmg-media/newspassid/internal/model"
)

// ParseTable parses the segments CSV table. Expected header:
// segments,expire_timestamp. Rows with a malformed timestamp are rejected
// rather than silently dropped so a corrupted table surfaces as an error.
func ParseTable(data []byte) ([]model.SegmentRecord, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse segments csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	header := rows[0]
	segIdx, expIdx := -1, -1
	for i, col := range header {
		switch strings.TrimSpace(col) {
		case "segments":
			segIdx = i
		case "expire_timestamp":
			expIdx = i
		}
	}
	if segIdx < 0 || expIdx < 0 {
		return nil, fmt.Errorf("segments csv missing required columns, got header %v", header)
	}
	records := make([]model.SegmentRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) <= segIdx || len(row) <= expIdx {
			continue
		}
		exp, err := strconv.ParseInt(strings.TrimSpace(row[expIdx]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse expire_timestamp %q: %w", row[expIdx], err)
		}
		records = append(records, model.SegmentRecord{
			Segments:        row[segIdx],
			ExpireTimestamp: exp,
		})
	}
	return records, nil
}

// Valid returns the segment values whose expiry (unix ms) is after now.
// Validity is re-evaluated on every call; nothing is cached.
func Valid(records []model.SegmentRecord, now time.Time) []string {
	nowMs := now.UnixMilli()
	out := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.ExpireTimestamp > nowMs {
			out = append(out, rec.Segments)
		}
	}
	return out
}

// NormalizeKey lowercases a segment and replaces every character outside
// [a-z0-9] with an underscore.
func NormalizeKey(segment string) string {
	lower := strings.ToLower(segment)
	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// KeyValue derives the targeting map from a segment list: normalized key →
// original value. When two segments normalize to the same key the later one
// wins, in input order.
func KeyValue(segs []string) map[string]string {
	kv := make(map[string]string, len(segs))
	for _, s := range segs {
		kv[NormalizeKey(s)] = s
	}
	return kv
}
