package document

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// LegacyParser routes formats with no native Go parser (doc, ppt, xls) to
// an external parsing service configured via ExternalParserConfig. Absent
// configuration it fails fast rather than silently skipping the document.
type LegacyParser struct {
	cfg ExternalParserConfig
}

func (p *LegacyParser) SupportedFormats() []string { return []string{"doc", "ppt", "xls"} }

func (p *LegacyParser) Parse(ctx context.Context, path string) (*ParsedDocument, error) {
	if p.cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: external parser not configured for legacy formats", path)
	}

	baseURL := p.cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.cloud.llamaindex.ai/api/parsing"
	}

	jobID, err := p.uploadFile(ctx, baseURL, path)
	if err != nil {
		return nil, fmt.Errorf("uploading to external parser: %w", err)
	}

	result, err := p.pollResult(ctx, baseURL, jobID)
	if err != nil {
		return nil, fmt.Errorf("fetching external parser result: %w", err)
	}

	sections := splitPageIntoSections(result, 1)
	if len(sections) == 0 {
		return nil, fmt.Errorf("%s: %w", path, errEmptyPDF)
	}

	return &ParsedDocument{
		Sections: sections,
		Method:   "external",
	}, nil
}

func (p *LegacyParser) uploadFile(ctx context.Context, baseURL, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", err
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/upload", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var uploadResp struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploadResp); err != nil {
		return "", fmt.Errorf("decoding upload response: %w", err)
	}
	return uploadResp.ID, nil
}

func (p *LegacyParser) pollResult(ctx context.Context, baseURL, jobID string) (string, error) {
	const maxAttempts = 60
	const pollInterval = 2 * time.Second

	statusURL := fmt.Sprintf("%s/job/%s", baseURL, jobID)
	resultURL := fmt.Sprintf("%s/job/%s/result/markdown", baseURL, jobID)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(pollInterval):
		}

		status, err := p.fetchJSON(ctx, statusURL)
		if err != nil {
			return "", err
		}
		var statusResp struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(status, &statusResp); err != nil {
			return "", fmt.Errorf("decoding status response: %w", err)
		}

		switch statusResp.Status {
		case "SUCCESS":
			result, err := p.fetchJSON(ctx, resultURL)
			if err != nil {
				return "", err
			}
			var resultResp struct {
				Markdown string `json:"markdown"`
			}
			if err := json.Unmarshal(result, &resultResp); err != nil {
				return "", fmt.Errorf("decoding result response: %w", err)
			}
			return resultResp.Markdown, nil
		case "ERROR", "FAILED":
			return "", fmt.Errorf("external parser job failed")
		}
	}

	return "", fmt.Errorf("timed out waiting for external parser job %s", jobID)
}

func (p *LegacyParser) fetchJSON(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}
	return io.ReadAll(resp.Body)
}
