package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"meridian/pkg/toolregistry"
)

var pdfExtractParams = []toolregistry.Param{
	{Name: "path", Type: toolregistry.TypeString, Required: true, Description: "Path to the PDF file, relative to the workspace."},
	{Name: "ingest", Type: toolregistry.TypeString, Description: "If \"true\", chunk and store the extracted text in the document index."},
}

type pdfExtractArgs struct {
	Path   string `json:"path"`
	Ingest string `json:"ingest"`
}

func (a pdfExtractArgs) ingestRequested() bool {
	requested, _ := strconv.ParseBool(a.Ingest)
	return requested
}

const (
	pdfChunkSize    = 1500
	pdfChunkOverlap = 300
)

var pdfTextOperatorPattern = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)\s*Tj`)

func (t *Toolset) pdfExtractExecutor(ctx context.Context, argumentsJSON string) (string, error) {
	var args pdfExtractArgs
	if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
		return errResult("invalid arguments: " + err.Error()), nil
	}
	resolved, err := t.Files.Resolve(args.Path)
	if err != nil {
		return errResult(err.Error()), nil
	}

	pageCount, err := api.PageCountFile(resolved)
	if err != nil {
		return errResult("reading PDF: " + err.Error()), nil
	}

	outDir, err := os.MkdirTemp("", "pdf-extract-*")
	if err != nil {
		return errResult(err.Error()), nil
	}
	defer os.RemoveAll(outDir)

	if err := api.ExtractContentFile(resolved, outDir, nil, nil); err != nil {
		return errResult("extracting PDF content: " + err.Error()), nil
	}

	text, err := collectExtractedText(outDir)
	if err != nil {
		return errResult(err.Error()), nil
	}

	result := map[string]any{
		"success":    true,
		"page_count": pageCount,
		"text":       text,
	}

	if args.ingestRequested() && strings.TrimSpace(text) != "" {
		chunks := chunkText(text, pdfChunkSize, pdfChunkOverlap)
		if err := t.Docs.EnsureIndex(documentsIndex, t.Embedder.Dimension(), 0); err != nil {
			return errResult(err.Error()), nil
		}
		ids := make([]string, 0, len(chunks))
		for _, chunk := range chunks {
			vec, err := t.Embedder.EmbedOrZero(ctx, chunk)
			if err != nil {
				return errResult(err.Error()), nil
			}
			id, err := t.Docs.Add(ctx, documentsIndex, chunk, vec, "pdf", args.Path, nil, time.Now().Unix())
			if err != nil {
				return errResult(err.Error()), nil
			}
			ids = append(ids, strconv.FormatUint(id, 10))
		}
		result["ingested_chunks"] = len(chunks)
		result["document_ids"] = ids
	}

	out, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// collectExtractedText reads every file pdfcpu wrote to dir and pulls the
// literal string operands of Tj text-showing operators out of the raw
// content stream, concatenating them in file order as a best-effort
// rendering of the page text.
func collectExtractedText(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return "", err
		}
		for _, match := range pdfTextOperatorPattern.FindAllSubmatch(data, -1) {
			sb.Write(match[1])
			sb.WriteByte(' ')
		}
		sb.WriteByte('\n')
	}
	return strings.TrimSpace(sb.String()), nil
}

// chunkText splits text into overlapping windows of at most size runes,
// keeping chunks on whitespace boundaries where possible.
func chunkText(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}
	var chunks []string
	for start := 0; start < len(runes); {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
		start = end - overlap
		if start < 0 {
			start = 0
		}
	}
	return chunks
}
