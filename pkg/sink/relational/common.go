// Package relational implements sink.Adapter for the three relational-kind
// destinations (Postgres, MySQL, SQL Server), the write-side counterpart of
// pkg/source/relational. Each dialect gets its own file with its own type
// map and DDL builder, the way pkg/source/relational keeps postgres.go,
// mysql.go, and mssql.go independent; this file holds the logic every
// dialect shares: column-name sanitizing, identifier truncation, and
// default-expression translation.
package relational

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pquerna/ffjson/ffjson"
	"github.com/rs/zerolog/log"

	"github.com/saadactin/migrator/pkg/migerr"
)

// sanitizeColumnName mirrors the Python destinations' inline sanitizer:
// non-alphanumeric characters become underscores and a leading digit is
// prefixed, so a source field name is always a valid bare identifier.
func sanitizeColumnName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "" {
		return "field"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}

// truncateIdentifier applies the truncate-at-maxLen-with-hash-suffix rule:
// names under the limit pass through; names over it are cut short and
// given an 8-hex-character MD5 suffix so two long, similarly-prefixed
// names don't collide after truncation.
func truncateIdentifier(name string, maxLen int) string {
	if len(name) <= maxLen {
		return name
	}
	sum := md5.Sum([]byte(name))
	suffix := hex.EncodeToString(sum[:])[:8]
	cut := maxLen - len(suffix) - 1
	if cut < 1 {
		cut = 1
	}
	if cut > len(name) {
		cut = len(name)
	}
	return name[:cut] + "_" + suffix
}

// translateDefault converts a source-reported default expression into a
// ready-to-use DEFAULT clause value for the destination. Returns ok=false
// when the default should be dropped: sequence defaults silently (no
// dialect here declares an identity or auto-increment column in their
// place, so such a column is created without a default), anything
// else unrecognized with a warning — table creation still proceeds, just
// without that column's default.
func translateDefault(def string, nowExpr string) (string, bool) {
	def = strings.TrimSpace(def)
	if def == "" {
		return "", false
	}
	// Strip a trailing Postgres-style type cast, e.g. "'active'::character varying".
	if idx := strings.Index(def, "::"); idx >= 0 {
		def = strings.TrimSpace(def[:idx])
	}

	lower := strings.ToLower(def)
	switch {
	case strings.Contains(lower, "nextval"):
		return "", false
	case lower == "true" || lower == "false":
		return strings.ToUpper(def), true
	case lower == "null":
		return "NULL", true
	case strings.Contains(lower, "now()"), strings.Contains(lower, "current_timestamp"):
		return nowExpr, true
	case strings.Contains(lower, "current_date"):
		return "CURRENT_DATE", true
	case strings.Contains(lower, "current_time"):
		return "CURRENT_TIME", true
	}

	// Already a quoted string literal (e.g. 'active') — use as reported.
	if strings.HasPrefix(def, "'") && strings.HasSuffix(def, "'") && len(def) >= 2 {
		return def, true
	}

	// Bare numeric literal passes through unquoted.
	var f float64
	if _, err := fmt.Sscanf(def, "%g", &f); err == nil {
		return def, true
	}

	log.Warn().Str("default", def).Msg("unrecognized default expression, dropping it from table creation")
	return "", false
}

// writeRowRetryPolicy is the per-row write budget described in SPEC_FULL
// §4.3's sink failure policy: a first try plus up to three retries, 3s/6s/9s
// apart, for retryable
// failures (session-lock errors, timeouts). These sinks already write one
// row per statement, so there is no smaller unit to split into on final
// failure — a row that still fails after the budget is exhausted is
// logged and skipped rather than aborting the whole batch.
func writeRowRetryPolicy() []backoff.RetryOption {
	delays := []time.Duration{3 * time.Second, 6 * time.Second, 9 * time.Second}
	return []backoff.RetryOption{
		backoff.WithBackOff(&steppedBackOff{delays: delays}),
		backoff.WithMaxTries(uint(len(delays)) + 1),
	}
}

// steppedBackOff replays a fixed delay sequence rather than computing one,
// so the 3s/6s/9s schedule SPEC_FULL names is exact rather than merely
// exponential-shaped.
type steppedBackOff struct {
	delays []time.Duration
	idx    int
}

func (b *steppedBackOff) NextBackOff() time.Duration {
	d := b.delays[b.idx%len(b.delays)]
	b.idx++
	return d
}

func (b *steppedBackOff) Reset() { b.idx = 0 }

// writeRowWithRetry runs write, retrying transient failures per
// writeRowRetryPolicy: errors wrapping migerr.ErrTransientNetwork, context
// deadline errors, and driver errors whose text reports a deadlock, a
// timeout, or a connection reset. Any other error returns immediately without
// spending the remaining tries. The caller decides whether a final
// failure aborts the batch or is merely logged and skipped.
func writeRowWithRetry(ctx context.Context, tableID string, write func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := write()
		if err == nil {
			return struct{}{}, nil
		}
		msg := strings.ToLower(err.Error())
		retryable := migerr.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) ||
			strings.Contains(msg, "deadlock") || strings.Contains(msg, "timeout") ||
			strings.Contains(msg, "connection reset")
		if !retryable {
			return struct{}{}, backoff.Permanent(err)
		}
		log.Warn().Str("table", tableID).Err(err).Msg("transient write error, retrying")
		return struct{}{}, err
	}, writeRowRetryPolicy()...)
	if err != nil {
		return fmt.Errorf("write row in %s: %w: %v", tableID, migerr.ErrSinkWrite, err)
	}
	return nil
}

// normalizeValueForWrite coerces a record value into something every
// dialect's driver accepts directly: compound values are re-encoded as
// JSON text, everything else passes through unchanged (including nil,
// numbers, bools, and shopspring/decimal.Decimal values the relational
// source adapters never produce but a future numeric source could).
// Marshaling via ffjson rather than encoding/json matches the teacher's
// own pkg/estuary sinks, which serialize every compound column the same
// way.
func normalizeValueForWrite(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case map[string]interface{}, []interface{}:
		b, err := ffjson.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	default:
		return val
	}
}
