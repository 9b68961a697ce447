// Package services – form fingerprints
//
// A fingerprint identifies one version of a form's content. It is the first
// 16 hex characters of SHA-256 over a canonical JSON rendering of the fields
// that define the form (data, field configurations, original JSON, name and
// version). Ids, timestamps and any previously stored fingerprint never take
// part, so the value is stable across saves that do not change content.
package services

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/tidwall/gjson"
)

// FingerprintLen is the number of hex characters kept from the SHA-256 digest.
const FingerprintLen = 16

// Document paths where a previously persisted fingerprint may live. The
// first non-empty one wins.
var storedFingerprintPaths = []string{
	"metadata.jsonFingerprint",
	"pdfMetadata.hashes.json_fingerprint",
}

// StoredFingerprint returns a fingerprint already present in doc, or "".
func StoredFingerprint(doc []byte) string {
	for _, p := range storedFingerprintPaths {
		if v := strings.TrimSpace(gjson.GetBytes(doc, p).String()); v != "" {
			return v
		}
	}
	return ""
}

// canonicalFields lists the top-level fields that define a form's content,
// with the value used when the field is absent.
var canonicalFields = []struct {
	path string
	def  any
}{
	{"formData", []any{}},
	{"fieldConfigurations", map[string]any{}},
	{"originalJson", map[string]any{}},
}

// CanonicalContent builds the sorted-key compact JSON that a fingerprint is
// derived from. Volatile fields such as ids and timestamps never take part.
func CanonicalContent(doc []byte) ([]byte, error) {
	content := make(map[string]any, 4)
	for _, f := range canonicalFields {
		v, err := rawOrDefault(doc, f.path, f.def)
		if err != nil {
			return nil, err
		}
		content[f.path] = v
	}
	name, err := rawOrDefault(doc, "metadata.formName", "")
	if err != nil {
		return nil, err
	}
	version, err := rawOrDefault(doc, "metadata.version", "1.0.0")
	if err != nil {
		return nil, err
	}
	content["metadata"] = map[string]any{"formName": name, "version": version}

	// encoding/json writes map keys in sorted order.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(content); err != nil {
		return nil, err
	}
	return escapeNonASCII(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// escapeNonASCII rewrites every rune outside printable ASCII as \uXXXX
// (UTF-16 pairs above the BMP). Fingerprints persisted by the form generator
// were computed over ASCII-only JSON, so content with accents or emoji must
// be encoded the same way to hash the same. Such runes only occur inside
// strings, so the rewrite never touches JSON structure.
func escapeNonASCII(b []byte) []byte {
	ascii := true
	for _, c := range b {
		if c >= 0x7f {
			ascii = false
			break
		}
	}
	if ascii {
		return b
	}
	var out bytes.Buffer
	out.Grow(len(b) + 16)
	for _, r := range string(b) {
		switch {
		case r < 0x7f:
			out.WriteRune(r)
		case r > 0xffff:
			hi, lo := utf16.EncodeRune(r)
			fmt.Fprintf(&out, `\u%04x\u%04x`, hi, lo)
		default:
			fmt.Fprintf(&out, `\u%04x`, r)
		}
	}
	return out.Bytes()
}

// ComputeFingerprint hashes the canonical content of doc.
func ComputeFingerprint(doc []byte) (string, error) {
	canon, err := CanonicalContent(doc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:])[:FingerprintLen], nil
}

func rawOrDefault(doc []byte, path string, def any) (any, error) {
	r := gjson.GetBytes(doc, path)
	if !r.Exists() {
		return def, nil
	}
	dec := json.NewDecoder(strings.NewReader(r.Raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
