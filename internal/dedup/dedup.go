// Package dedup collapses structurally equivalent records.
//
// The default key is a heuristic: the normalized text is truncated to a
// fixed prefix before hashing, so two long records sharing a prefix are
// conflated, and records differing only in punctuation are not merged.
// Callers that need a stricter identity can plug in ContentHash.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/maltedev/adlibrary-harvester/internal/models"
)

// DefaultPrefixLength is the number of normalized runes that identify a record.
const DefaultPrefixLength = 100

// Fingerprint derives a dedup key from record text.
type Fingerprint func(text string) string

// Normalize trims, lowercases and collapses runs of whitespace.
func Normalize(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// PrefixFingerprint keys on the first n runes of the normalized text.
func PrefixFingerprint(n int) Fingerprint {
	if n <= 0 {
		n = DefaultPrefixLength
	}
	return func(text string) string {
		norm := Normalize(text)
		if r := []rune(norm); len(r) > n {
			norm = string(r[:n])
		}
		return strconv.FormatUint(xxhash.Sum64String(norm), 16)
	}
}

// ContentHash keys on the whole normalized text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}

// RecordText picks the text a record is identified by: its body text, or
// the remaining fields and media when the body is empty.
func RecordText(fields map[string]string, media []string) string {
	if text := strings.TrimSpace(fields[models.FieldText]); text != "" {
		return text
	}
	parts := []string{
		fields[models.FieldAdvertiser],
		fields[models.FieldSponsorInfo],
		fields[models.FieldCTAText],
	}
	parts = append(parts, media...)
	return strings.Join(parts, " ")
}

// Deduplicator remembers keys it has accepted. It is not safe for
// concurrent use.
type Deduplicator struct {
	seen map[string]struct{}
}

func New() *Deduplicator {
	return &Deduplicator{seen: make(map[string]struct{})}
}

// Accept reports whether key is seen for the first time.
func (d *Deduplicator) Accept(key string) bool {
	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = struct{}{}
	return true
}

func (d *Deduplicator) Len() int {
	return len(d.seen)
}
