package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-publish-agent/internal/http/middleware"
	"github.com/tbourn/go-publish-agent/internal/pdfmeta"
)

// PDFFormField is the multipart field carrying the uploaded document.
const PDFFormField = "pdfFile"

// PageRenderer rasterizes PDF pages into files under outDir.
type PageRenderer interface {
	Render(ctx context.Context, pdf []byte, outDir, base string) ([]string, error)
}

// PDFHandlers serves the PDF metadata and conversion endpoints.
type PDFHandlers struct {
	Renderer PageRenderer
	// OutputDir receives one sub-directory of PNGs per conversion.
	OutputDir string
	// ImagesPath is the URL prefix under which OutputDir is served.
	ImagesPath string
}

// PDFMetadataResponse is returned by POST /conversion/pdf-metadata.
type PDFMetadataResponse struct {
	Filename string            `json:"filename" example:"invoice.pdf"`
	Metadata *pdfmeta.Metadata `json:"metadata"`
	Message  string            `json:"message" example:"PDF metadata extracted successfully"`
}

// PDFConvertResponse is returned by POST /conversion/pdf-to-png-save.
type PDFConvertResponse struct {
	Message         string            `json:"message"`
	SavedFilesCount int               `json:"saved_files_count"`
	OutputDirectory string            `json:"output_directory_on_server"`
	SavedFilePaths  []string          `json:"saved_file_paths_on_server"`
	AccessibleURLs  []string          `json:"accessible_urls"`
	Metadata        *pdfmeta.Metadata `json:"metadata,omitempty"`
}

// readPDF pulls the uploaded PDF out of the multipart form. On failure it has
// already written the error response.
func readPDF(c *gin.Context) (name string, data []byte, good bool) {
	fh, err := c.FormFile(PDFFormField)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "upload too large")
			return "", nil, false
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("No PDF file part in the request. Use key '%s'.", PDFFormField))
		return "", nil, false
	}
	if fh.Filename == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "No PDF file selected.")
		return "", nil, false
	}
	if !strings.EqualFold(filepath.Ext(fh.Filename), ".pdf") {
		fail(c, http.StatusBadRequest, ErrCodeInvalidFile, "Invalid file type. Only PDF files are allowed.")
		return "", nil, false
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return "", nil, false
	}
	defer f.Close()
	data, err = io.ReadAll(f)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return "", nil, false
	}
	return fh.Filename, data, true
}

// PDFMetadata godoc
// @ID          pdfMetadata
// @Summary     Extract PDF metadata
// @Description Reads the document information dictionary and page count and derives identifying hashes.
// @Tags        PDF
// @Accept      multipart/form-data
// @Produce     json
// @Param       pdfFile  formData  file  true  "PDF document"
// @Success     200  {object}  handlers.PDFMetadataResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Extraction failed"
// @Router      /conversion/pdf-metadata [post]
func (p *PDFHandlers) PDFMetadata(c *gin.Context) {
	name, data, good := readPDF(c)
	if !good {
		return
	}
	meta, err := pdfmeta.ExtractBytes(data)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeExtractFailed, "Failed to extract PDF metadata: "+err.Error())
		return
	}
	ok(c, http.StatusOK, PDFMetadataResponse{
		Filename: name,
		Metadata: meta,
		Message:  "PDF metadata extracted successfully",
	})
}

// PDFToPNG godoc
// @ID          pdfToPNG
// @Summary     Convert a PDF to PNG pages
// @Description Renders every page to PNG in a fresh server-side directory and returns the files' URLs and the document metadata.
// @Tags        PDF
// @Accept      multipart/form-data
// @Produce     json
// @Param       pdfFile  formData  file  true  "PDF document"
// @Success     200  {object}  handlers.PDFConvertResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Conversion failed"
// @Router      /conversion/pdf-to-png-save [post]
func (p *PDFHandlers) PDFToPNG(c *gin.Context) {
	name, data, good := readPDF(c)
	if !good {
		return
	}
	lg := middleware.LoggerFrom(c)

	// Metadata is informative here; a broken info dictionary must not block rendering.
	meta, err := pdfmeta.ExtractBytes(data)
	if err != nil {
		lg.Warn().Err(err).Str("filename", name).Msg("pdf metadata unavailable")
		meta = nil
	}

	sub := uuid.NewString()
	outDir := filepath.Join(p.OutputDir, sub)
	files, err := p.Renderer.Render(c.Request.Context(), data, outDir, pdfmeta.SafeBase(name))
	if err != nil {
		if errors.Is(err, pdfmeta.ErrNoPages) {
			fail(c, http.StatusInternalServerError, ErrCodeConvertFailed, "Could not convert PDF to images. The PDF might be empty or corrupted.")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeConvertFailed, "Failed to convert PDF and save images: "+err.Error())
		return
	}

	base := requestBaseURL(c) + strings.TrimRight(p.ImagesPath, "/")
	resp := PDFConvertResponse{
		Message:         fmt.Sprintf("Successfully converted PDF to %d PNG images.", len(files)),
		SavedFilesCount: len(files),
		OutputDirectory: outDir,
		Metadata:        meta,
	}
	for _, f := range files {
		resp.SavedFilePaths = append(resp.SavedFilePaths, filepath.Join(outDir, f))
		resp.AccessibleURLs = append(resp.AccessibleURLs, base+"/"+sub+"/"+f)
	}
	lg.Info().Str("filename", name).Int("pages", len(files)).Str("dir", sub).Msg("pdf converted")
	ok(c, http.StatusOK, resp)
}

// PDFHealth reports that the PDF service is up.
func (p *PDFHandlers) PDFHealth(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(`<!doctype html>
<html><head><title>PDF Service</title></head>
<body>
<h1>PDF service is running</h1>
<ul>
<li>POST /conversion/pdf-metadata (multipart field pdfFile)</li>
<li>POST /conversion/pdf-to-png-save (multipart field pdfFile)</li>
<li>GET /conversion/generated_images/{dir}/{file}</li>
</ul>
</body></html>`))
}

// requestBaseURL rebuilds scheme://host of the incoming request.
func requestBaseURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil || strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}
