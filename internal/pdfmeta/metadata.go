// Package pdfmeta reads document-information metadata from PDF files,
// derives identifying hashes from it and renders pages to PNG.
package pdfmeta

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Metadata is the information dictionary of a PDF plus its page count.
//
// Only the entries the document actually carries are serialized; an entry
// that is present but empty is kept as "".
type Metadata struct {
	Title            string  `json:"title,omitempty"`
	Author           string  `json:"author,omitempty"`
	Subject          string  `json:"subject,omitempty"`
	Creator          string  `json:"creator,omitempty"`
	Producer         string  `json:"producer,omitempty"`
	CreationDate     string  `json:"creation_date,omitempty"`
	ModificationDate string  `json:"modification_date,omitempty"`
	PageCount        int     `json:"page_count"`
	Hashes           *Hashes `json:"hashes,omitempty"`

	// present holds the information dictionary keys found in the document.
	// When nil, every non-empty field counts as present.
	present map[string]bool
}

// infoField maps an information dictionary key to its JSON name.
type infoField struct {
	json, pdf string
	value     func(*Metadata) string
}

var infoFields = []infoField{
	{"title", "Title", func(m *Metadata) string { return m.Title }},
	{"author", "Author", func(m *Metadata) string { return m.Author }},
	{"subject", "Subject", func(m *Metadata) string { return m.Subject }},
	{"creator", "Creator", func(m *Metadata) string { return m.Creator }},
	{"producer", "Producer", func(m *Metadata) string { return m.Producer }},
	{"creation_date", "CreationDate", func(m *Metadata) string { return m.CreationDate }},
	{"modification_date", "ModDate", func(m *Metadata) string { return m.ModificationDate }},
}

// fields returns the serialized entries of m without its hashes.
func (m *Metadata) fields() map[string]any {
	out := map[string]any{"page_count": m.PageCount}
	for _, f := range infoFields {
		v := f.value(m)
		if m.present[f.pdf] || (m.present == nil && v != "") {
			out[f.json] = v
		}
	}
	return out
}

// MarshalJSON writes the present entries, the page count and the hashes.
func (m Metadata) MarshalJSON() ([]byte, error) {
	out := m.fields()
	if m.Hashes != nil {
		out["hashes"] = m.Hashes
	}
	return json.Marshal(out)
}

// Hashes identify a document by its metadata.
type Hashes struct {
	MD5             string `json:"md5"`
	SHA1            string `json:"sha1"`
	SHA256          string `json:"sha256"`
	ShortID         string `json:"short_id"`
	JSONFingerprint string `json:"json_fingerprint"`
}

// Extract reads and validates a PDF and returns its metadata with hashes.
func Extract(rs io.ReadSeeker) (*Metadata, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(rs, conf)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return nil, fmt.Errorf("validate pdf: %w", err)
	}

	m := &Metadata{
		Title:            ctx.Title,
		Author:           ctx.Author,
		Subject:          ctx.Subject,
		Creator:          ctx.Creator,
		Producer:         ctx.Producer,
		CreationDate:     ParseDate(ctx.XRefTable.CreationDate),
		ModificationDate: ParseDate(ctx.ModDate),
		PageCount:        ctx.PageCount,
		present:          infoKeys(ctx),
	}
	h := ComputeHashes(*m)
	m.Hashes = &h
	return m, nil
}

// infoKeys lists the entries of the document information dictionary.
func infoKeys(ctx *model.Context) map[string]bool {
	present := map[string]bool{}
	if ctx.Info == nil {
		return present
	}
	d, err := ctx.DereferenceDict(*ctx.Info)
	if err != nil {
		return nil
	}
	for k := range d {
		present[k] = true
	}
	return present
}

// ExtractBytes is Extract over an in-memory document.
func ExtractBytes(pdf []byte) (*Metadata, error) {
	return Extract(bytes.NewReader(pdf))
}

// ParseDate converts a PDF date (D:YYYYMMDDHHmmSS...) to ISO 8601 local time
// without zone. Anything else is returned unchanged.
func ParseDate(s string) string {
	if !strings.HasPrefix(s, "D:") || len(s) < 16 {
		return s
	}
	t, err := time.Parse("20060102150405", s[2:16])
	if err != nil {
		return s
	}
	return t.Format("2006-01-02T15:04:05")
}

// ComputeHashes derives the identifying hashes of m. The digest input is
// title|creator|producer|creation_date|modification_date. The JSON
// fingerprint covers the present entries of m without its hashes, encoded
// with sorted keys, ", " and ": " separators and \uXXXX escapes for anything
// outside printable ASCII. Fingerprints stored under pdfMetadata.hashes by
// earlier conversions use this exact encoding.
func ComputeHashes(m Metadata) Hashes {
	line := strings.Join([]string{m.Title, m.Creator, m.Producer, m.CreationDate, m.ModificationDate}, "|")
	md := md5.Sum([]byte(line))
	s1 := sha1.Sum([]byte(line))
	s256 := sha256.Sum256([]byte(line))
	fp := sha256.Sum256(canonicalJSON(m.fields()))

	full := hex.EncodeToString(s256[:])
	return Hashes{
		MD5:             hex.EncodeToString(md[:]),
		SHA1:            hex.EncodeToString(s1[:]),
		SHA256:          full,
		ShortID:         full[:8],
		JSONFingerprint: hex.EncodeToString(fp[:]),
	}
}

// canonicalJSON encodes a flat object of strings and ints the way Python's
// json.dumps(obj, sort_keys=True) does.
func canonicalJSON(obj map[string]any) []byte {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b bytes.Buffer
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		writeASCIIString(&b, k)
		b.WriteString(": ")
		switch v := obj[k].(type) {
		case string:
			writeASCIIString(&b, v)
		case int:
			b.WriteString(strconv.Itoa(v))
		default:
			writeASCIIString(&b, fmt.Sprint(v))
		}
	}
	b.WriteByte('}')
	return b.Bytes()
}

func writeASCIIString(b *bytes.Buffer, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			switch {
			case r >= 0x20 && r < 0x7f:
				b.WriteRune(r)
			case r > 0xffff:
				hi, lo := utf16.EncodeRune(r)
				fmt.Fprintf(b, `\u%04x\u%04x`, hi, lo)
			default:
				fmt.Fprintf(b, `\u%04x`, r)
			}
		}
	}
	b.WriteByte('"')
}
