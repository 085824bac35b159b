package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/zombor/screen-watchdog/internal/failure"
	"github.com/zombor/screen-watchdog/internal/imaging"
)

const (
	// DefaultOCRSpaceURL is the public OCR.space parse endpoint
	DefaultOCRSpaceURL = "https://api.ocr.space/parse/image"
	// DefaultOCRSpaceKey is the shared free-tier key OCR.space publishes
	DefaultOCRSpaceKey = "helloworld"
)

// OCRSpace implements the Recognizer interface using the OCR.space HTTP API
type OCRSpace struct {
	endpoint string
	apiKey   string
	language string
	client   *http.Client
}

// NewOCRSpace creates a new OCR.space Recognizer. Empty arguments fall back
// to the public endpoint, the free key and Russian.
func NewOCRSpace(endpoint, apiKey, language string) *OCRSpace {
	if endpoint == "" {
		endpoint = DefaultOCRSpaceURL
	}
	if apiKey == "" {
		apiKey = DefaultOCRSpaceKey
	}
	if language == "" {
		language = "rus"
	}

	return &OCRSpace{
		endpoint: endpoint,
		apiKey:   apiKey,
		language: language,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type ocrSpaceResponse struct {
	OCRExitCode           int             `json:"OCRExitCode"`
	IsErroredOnProcessing bool            `json:"IsErroredOnProcessing"`
	ErrorMessage          json.RawMessage `json:"ErrorMessage"`
	ParsedResults         []struct {
		ParsedText string `json:"ParsedText"`
	} `json:"ParsedResults"`
}

// Recognize uploads the image and returns the text of the first parsed page
func (o *OCRSpace) Recognize(ctx context.Context, image []byte, contentType string) (string, error) {
	pngData, err := imaging.ToPNG(image, contentType)
	if err != nil {
		return "", failure.Permanent(fmt.Errorf("preparing image: %w", err), "")
	}

	body, formType, err := o.form(pngData)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", formType)

	resp, err := o.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", failure.Transient(fmt.Errorf("calling OCR.space API: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		statusErr := fmt.Errorf("OCR.space API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return "", failure.Permanent(statusErr, "check the OCR.space API key (--ocrspace-key)")
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return "", failure.Transient(statusErr)
		default:
			return "", failure.Permanent(statusErr, "")
		}
	}

	var parsed ocrSpaceResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", failure.Transient(fmt.Errorf("decoding response: %w", err))
	}

	if parsed.OCRExitCode != 1 {
		message := errorMessages(parsed.ErrorMessage)
		if message == "" {
			message = "unknown error"
		}
		return "", failure.Transient(fmt.Errorf("OCR.space exit code %d: %s", parsed.OCRExitCode, message))
	}

	if len(parsed.ParsedResults) == 0 {
		return "", nil
	}
	return strings.TrimSpace(parsed.ParsedResults[0].ParsedText), nil
}

func (o *OCRSpace) form(pngData []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"apikey", o.apiKey},
		{"language", o.language},
		{"isOverlayRequired", "false"},
		{"detectOrientation", "true"},
		{"OCREngine", "2"},
	}
	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return nil, "", fmt.Errorf("writing form field %s: %w", field[0], err)
		}
	}

	part, err := writer.CreateFormFile("file", "screen.png")
	if err != nil {
		return nil, "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(pngData); err != nil {
		return nil, "", fmt.Errorf("writing form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("closing form: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// Close is a no-op for the HTTP client
func (o *OCRSpace) Close() error {
	return nil
}
