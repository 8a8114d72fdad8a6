// Package ocr reads licence plate text from images through an ALPR HTTP
// service speaking the OpenALPR JSON format.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/your-org/guarda/internal/config"
)

// Candidate is one plate reading with its confidence in percent.
type Candidate struct {
	Plate      string  `json:"plate"`
	Confidence float64 `json:"confidence"`
}

type result struct {
	Candidate
	Candidates []Candidate `json:"candidates"`
}

type response struct {
	Results []result `json:"results"`
	Error   string   `json:"error,omitempty"`
}

// Client talks to the ALPR endpoint.
type Client struct {
	endpoint string
	country  string
	http     *http.Client
}

func NewClient(cfg config.OCRConfig) *Client {
	return &Client{
		endpoint: cfg.URL,
		country:  cfg.Country,
		http:     &http.Client{Timeout: cfg.Timeout},
	}
}

// Enabled reports whether an ALPR endpoint is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.endpoint != ""
}

// ReadPlate returns the highest-confidence plate text found in img. An image
// without any plate yields an empty string and no error.
func (c *Client) ReadPlate(ctx context.Context, img []byte) (string, error) {
	best, err := c.Recognize(ctx, img)
	if err != nil {
		return "", err
	}
	return best.Plate, nil
}

// Recognize returns the best candidate considering every result and its
// alternatives.
func (c *Client) Recognize(ctx context.Context, img []byte) (Candidate, error) {
	if !c.Enabled() {
		return Candidate{}, fmt.Errorf("ocr endpoint not configured")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "plate.jpg")
	if err != nil {
		return Candidate{}, fmt.Errorf("build ocr request: %w", err)
	}
	if _, err := part.Write(img); err != nil {
		return Candidate{}, fmt.Errorf("build ocr request: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Candidate{}, fmt.Errorf("build ocr request: %w", err)
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return Candidate{}, fmt.Errorf("parse ocr url: %w", err)
	}
	if c.country != "" {
		q := u.Query()
		q.Set("country", c.country)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), &body)
	if err != nil {
		return Candidate{}, fmt.Errorf("build ocr request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return Candidate{}, fmt.Errorf("ocr request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Candidate{}, fmt.Errorf("read ocr response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Candidate{}, fmt.Errorf("ocr status %d after %s", resp.StatusCode, time.Since(start).Round(time.Millisecond))
	}

	var out response
	if err := json.Unmarshal(payload, &out); err != nil {
		return Candidate{}, fmt.Errorf("decode ocr response: %w", err)
	}
	if out.Error != "" {
		return Candidate{}, fmt.Errorf("ocr error: %s", out.Error)
	}
	return pickBest(out.Results), nil
}

func pickBest(results []result) Candidate {
	var best Candidate
	consider := func(c Candidate) {
		if c.Plate == "" {
			return
		}
		if best.Plate == "" || c.Confidence > best.Confidence {
			best = c
		}
	}
	for _, r := range results {
		consider(r.Candidate)
		for _, alt := range r.Candidates {
			consider(alt)
		}
	}
	return best
}
