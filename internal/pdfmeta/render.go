package pdfmeta

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ErrNoPages is returned when rendering produced no images.
var ErrNoPages = errors.New("pdf produced no pages")

// Renderer rasterizes PDFs with poppler's pdftoppm.
type Renderer struct {
	// Path is the pdftoppm executable.
	Path string
	DPI  int
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SafeBase reduces an uploaded file name to a safe base name without extension.
func SafeBase(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.Trim(unsafeName.ReplaceAllString(base, "_"), "._")
	if base == "" {
		return "document"
	}
	return base
}

var pageSuffix = regexp.MustCompile(`-(\d+)\.png$`)

// Render writes one PNG per page of pdf into outDir as {base}_page_{n}.png
// and returns the file names in page order.
func (r Renderer) Render(ctx context.Context, pdf []byte, outDir, base string) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	src, err := os.CreateTemp("", "pdfmeta-*.pdf")
	if err != nil {
		return nil, err
	}
	defer os.Remove(src.Name())
	if _, err := src.Write(pdf); err != nil {
		src.Close()
		return nil, err
	}
	if err := src.Close(); err != nil {
		return nil, err
	}

	bin := r.Path
	if bin == "" {
		bin = "pdftoppm"
	}
	dpi := r.DPI
	if dpi <= 0 {
		dpi = 200
	}
	prefix := filepath.Join(outDir, "page")
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "-png", "-r", strconv.Itoa(dpi), src.Name(), prefix)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	// pdftoppm zero-pads page numbers depending on the page count.
	matches, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, err
	}
	type page struct {
		n    int
		path string
	}
	pages := make([]page, 0, len(matches))
	for _, m := range matches {
		sub := pageSuffix.FindStringSubmatch(m)
		if sub == nil {
			continue
		}
		n, _ := strconv.Atoi(sub[1])
		pages = append(pages, page{n, m})
	}
	if len(pages) == 0 {
		return nil, ErrNoPages
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].n < pages[j].n })

	names := make([]string, 0, len(pages))
	for _, p := range pages {
		name := fmt.Sprintf("%s_page_%d.png", base, p.n)
		if err := os.Rename(p.path, filepath.Join(outDir, name)); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

// Available reports whether the renderer binary can be found.
func (r Renderer) Available() bool {
	bin := r.Path
	if bin == "" {
		bin = "pdftoppm"
	}
	_, err := exec.LookPath(bin)
	return err == nil
}
