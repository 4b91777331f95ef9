// Package fingerprint derives stable content keys.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"example.com/agentwatch/internal/domain"
)

// Key returns the hex SHA-256 of fields joined by '|'. Fields are
// length-prefixed so ("a|b", "c") and ("a", "b|c") differ.
func Key(fields ...string) string {
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(strconv.Itoa(len(f)))
		b.WriteByte(':')
		b.WriteString(f)
		b.WriteByte('|')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// ThemeChecksum covers every portable field of a snapshot except the
// checksum itself and the export time.
func ThemeChecksum(s domain.ThemeSnapshot) string {
	colors, _ := json.Marshal(s.Colors)
	fields := []string{s.Name, s.DisplayName, s.Description, string(colors), s.AuthorName, s.Version}
	fields = append(fields, s.Tags...)
	return Key(fields...)
}
