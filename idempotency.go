package agentpay

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	idempotencyKeyPrefix = "sdk-"
	idempotencyHashLen   = 16
)

// DeriveIdempotencyKey builds sdk-<hash>-<unix millis> from the request semantics.
//
// The hash covers amount, merchant, purpose and the context with its keys
// sorted, so equal inputs give an equal hash segment. The millisecond suffix
// makes every derived key unique per call: retrying a logical operation with a
// derived key is NOT deduplicated by the server. Supply an explicit key or an
// OperationID with a KeyStore for that.
func DeriveIdempotencyKey(amountCents int64, merchant, purpose string, context map[string]any, now time.Time) string {
	return fmt.Sprintf("%s%s-%d", idempotencyKeyPrefix, semanticHash(amountCents, merchant, purpose, context), now.UnixMilli())
}

func semanticHash(amountCents int64, merchant, purpose string, context map[string]any) string {
	if context == nil {
		context = map[string]any{}
	}
	// encoding/json writes map keys in sorted order at every depth
	ctxJSON, err := json.Marshal(context)
	if err != nil {
		ctxJSON = []byte(fmt.Sprintf("%v", context))
	}

	data := strings.Join([]string{
		fmt.Sprintf("%d", amountCents),
		merchant,
		purpose,
		string(ctxJSON),
	}, "|")

	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])[:idempotencyHashLen]
}

// HashSegment returns the hash part of a derived key, or "" if key was not derived
func HashSegment(key string) string {
	rest, ok := strings.CutPrefix(key, idempotencyKeyPrefix)
	if !ok || len(rest) < idempotencyHashLen {
		return ""
	}
	return rest[:idempotencyHashLen]
}

// StripTimestamp drops the time suffix so semantically equal submissions share a key
func StripTimestamp(key string) string {
	hash := HashSegment(key)
	if hash == "" {
		return key
	}
	return idempotencyKeyPrefix + hash
}
