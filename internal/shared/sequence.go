package shared

import (
	"context"
	"fmt"
	"time"
)

// DocumentPrefix is the per-day numbering prefix for a document kind, e.g.
// "SO-20240610-".
func DocumentPrefix(kind string, day time.Time) string {
	return kind + "-" + day.Format("20060102") + "-"
}

// FormatDocumentNumber appends a zero padded counter to prefix.
func FormatDocumentNumber(prefix string, seq int) string {
	return fmt.Sprintf("%s%04d", prefix, seq)
}

const nextSequenceSQL = `INSERT INTO document_sequences (prefix, last_value) VALUES ($1, 1)
ON CONFLICT (prefix) DO UPDATE SET last_value = document_sequences.last_value + 1
RETURNING last_value`

// NextDocumentNumber reserves the next number under prefix. The counter row
// stays locked until the surrounding transaction ends, so concurrent callers
// never receive the same value.
func NextDocumentNumber(ctx context.Context, q DBTX, prefix string) (string, error) {
	var seq int
	if err := q.QueryRow(ctx, nextSequenceSQL, prefix).Scan(&seq); err != nil {
		return "", fmt.Errorf("next %s number: %w", prefix, err)
	}
	return FormatDocumentNumber(prefix, seq), nil
}
