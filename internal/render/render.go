// Package render talks to the PDF rendering service.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/djlord-it/easy-invoice/internal/domain"
)

const defaultTimeout = 30 * time.Second

type Request struct {
	Template json.RawMessage
	Inputs   map[string]string
	Filename string
}

type generateRequest struct {
	Template json.RawMessage     `json:"template"`
	Inputs   []map[string]string `json:"inputs"`
	Filename string              `json:"filename,omitempty"`
}

type generateResponse struct {
	PDFURL      string `json:"pdf_url"`
	StoragePath string `json:"storage_path"`
	Message     string `json:"message"`
}

// HTTPRenderer posts templates to {baseURL}/generate and returns the stored
// artifact.
type HTTPRenderer struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

func NewHTTPRenderer(baseURL string, timeout time.Duration) *HTTPRenderer {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPRenderer{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client:  &http.Client{},
	}
}

func (r *HTTPRenderer) Render(ctx context.Context, req Request) (domain.Artifact, error) {
	body, err := json.Marshal(generateRequest{
		Template: req.Template,
		Inputs:   []map[string]string{req.Inputs},
		Filename: req.Filename,
	})
	if err != nil {
		return domain.Artifact{}, errors.Wrap(err, "marshal")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return domain.Artifact{}, errors.Wrap(err, "create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return domain.Artifact{}, errors.Wrap(err, "render")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.Artifact{}, errors.Wrap(err, "read response")
	}

	var out generateResponse
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode != http.StatusOK {
		msg := out.Message
		if decodeErr != nil || msg == "" {
			msg = "unknown error"
		}
		return domain.Artifact{}, errors.Newf("render service %d: %s", resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return domain.Artifact{}, errors.Wrap(decodeErr, "decode response")
	}
	if out.PDFURL == "" {
		return domain.Artifact{}, errors.New("render service returned no pdf_url")
	}
	return domain.Artifact{URL: out.PDFURL, StoragePath: out.StoragePath}, nil
}

// Filename is the storage name stem for doc's PDF.
func Filename(doc domain.Document) string {
	return string(doc.Type) + "_" + doc.Number
}
