// Package admission decides whether an order request may proceed to the
// broker: at most one accepted submission per (user, fingerprint) per dedup
// window, and at most K accepted submissions per user per rolling window.
package admission

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"tradekeeper/internal/domain"
)

// Fingerprint computes the deterministic digest identifying a logically
// equivalent order within a time bucket. Identical inputs inside one bucket
// always hash the same; changing any order field or crossing a bucket
// boundary yields a different digest. Quantities and prices are canonicalized
// to a fixed scale so equal decimal values hash equally regardless of their
// internal representation.
func Fingerprint(req domain.OrderRequest, at time.Time, window time.Duration) string {
	bucket := at.UnixNano() / int64(window)
	canonical := strings.Join([]string{
		req.UserID,
		req.Symbol,
		string(req.Side),
		req.Qty.StringFixed(8),
		req.Price.StringFixed(8),
		strconv.FormatInt(bucket, 10),
	}, "|")

	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
