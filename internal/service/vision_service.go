package service

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"invoicescan/internal/dto"
	"invoicescan/pkg/config"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// VisionService extracts invoice fields from a document by sending its raw
// bytes to the GigaChat Vision API together with a fixed instruction. One
// model call per request; callers needing resilience must wrap it.
//
// A single VisionService is shared by all in-flight requests; the cached
// access token is the only mutable state and is guarded by mu.
type VisionService struct {
	config     *config.GigaChatConfig
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
	oauthURL   string

	mu          sync.Mutex
	accessToken string
}

const extractionInstruction = `Analyze the provided invoice document (image or PDF). Extract the following information:
1. Total value: the total monetary amount, as a decimal number (e.g. 123.45).
2. Issue date: the date the invoice was issued, in YYYY-MM-DD format.
3. CNPJ: the issuer's tax id, in XX.XXX.XXX/XXXX-XX format.

Return this information strictly as a valid JSON object in this exact format:
{
    "total_value": <total as a decimal number>,
    "issue_date": "<issue date as YYYY-MM-DD>",
    "cnpj": "<CNPJ as XX.XXX.XXX/XXXX-XX>"
}

If a piece of information cannot be found, return null for that field. Do not include any text before or after the JSON.`

func NewVisionService(cfg *config.GigaChatConfig, logger *zap.Logger) (*VisionService, error) {
	httpClient := &http.Client{}
	if cfg.InsecureSkipVerify {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
		logger.Warn("GigaChat TLS certificate verification is disabled")
	}

	s := &VisionService{
		config:     cfg,
		logger:     logger,
		httpClient: httpClient,
		// GigaChat REST API
		// Documentation: https://developers.sber.ru/docs/ru/gigachat/api/main
		baseURL:  "https://gigachat.devices.sberbank.ru/api/v1",
		oauthURL: "https://ngw.devices.sberbank.ru:9443/api/v2/oauth",
	}

	// The OAuth round trip doubles as the startup credential check: a bad
	// key is caught here, leaving the service in its misconfigured state
	if err := s.refreshAccessToken(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	return s, nil
}

// refreshAccessToken obtains an access token from the GigaChat OAuth
// endpoint and caches it. The API key is expected to be Base64-encoded
// already, per the GigaChat API docs.
func (s *VisionService) refreshAccessToken(ctx context.Context) error {
	rqUID := uuid.New().String()

	formData := url.Values{}
	formData.Set("scope", s.config.Scope)

	req, err := http.NewRequestWithContext(ctx, "POST", s.oauthURL, strings.NewReader(formData.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create OAuth request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("RqUID", rqUID)
	req.Header.Set("Authorization", "Basic "+s.config.APIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		s.logger.Error("OAuth request failed",
			zap.Int("status", resp.StatusCode),
			zap.String("response", string(bodyBytes)),
			zap.String("rq_uid", rqUID),
		)
		return fmt.Errorf("OAuth failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var oauthResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&oauthResp); err != nil {
		return fmt.Errorf("failed to decode OAuth response: %w", err)
	}
	if oauthResp.AccessToken == "" {
		return fmt.Errorf("empty access token in OAuth response")
	}

	s.setToken(oauthResp.AccessToken)
	return nil
}

func (s *VisionService) token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken
}

func (s *VisionService) setToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = token
}

// Ready reports whether the model integration was successfully initialized.
func (s *VisionService) Ready() bool {
	if s == nil {
		return false
	}
	return s.token() != ""
}

// Extract sends the document bytes and the extraction instruction to the
// model and returns the typed fields. The caller guarantees mimeType is one
// of image/jpeg, image/png, application/pdf. PDF bytes are forwarded whole,
// trusting the model's native PDF handling.
func (s *VisionService) Extract(ctx context.Context, data []byte, mimeType string) (*dto.ExtractedInvoiceData, error) {
	if !s.Ready() {
		return nil, ErrServiceMisconfigured
	}

	fileID, err := s.uploadFile(ctx, data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	rawText, err := s.visionCompletion(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	extracted, err := parseModelResponse(rawText)
	if err != nil {
		s.logger.Error("Failed to parse model response",
			zap.Error(err),
			zap.String("raw_response", rawText),
		)
		return nil, err
	}

	s.logger.Info("Invoice fields extracted",
		zap.Bool("has_total_value", extracted.TotalValue != nil),
		zap.Bool("has_issue_date", extracted.IssueDate != nil),
		zap.Bool("has_cnpj", extracted.CNPJ != nil),
	)

	return extracted, nil
}

// parseModelResponse turns the model's raw text output into typed fields:
// trim, strip a markdown code fence if present, decode JSON, normalize.
func parseModelResponse(rawText string) (*dto.ExtractedInvoiceData, error) {
	jsonStr := stripCodeFence(rawText)

	decoder := json.NewDecoder(strings.NewReader(jsonStr))
	decoder.UseNumber()

	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponseFormat, err)
	}

	extracted, err := normalizeExtractedData(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompleteResponse, err)
	}

	return extracted, nil
}

// stripCodeFence removes a markdown code fence when one is present on both
// ends of the text. The model sometimes wraps its JSON in ```json ... ```
// despite instructions. A one-sided fence is left alone and will fail JSON
// parsing downstream.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)

	stripped := strings.TrimPrefix(s, "```json")
	if stripped == s {
		stripped = strings.TrimPrefix(s, "```")
	}
	if stripped == s || !strings.HasSuffix(stripped, "```") {
		return s
	}

	return strings.TrimSpace(strings.TrimSuffix(stripped, "```"))
}

// uploadFile uploads the document bytes to GigaChat and returns the file ID.
// Endpoint: POST /files
func (s *VisionService) uploadFile(ctx context.Context, data []byte, mimeType string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	// "general" purpose allows using the file in generation requests
	if err := writer.WriteField("purpose", "general"); err != nil {
		return "", fmt.Errorf("failed to write purpose field: %w", err)
	}

	part, err := writer.CreatePart(map[string][]string{
		"Content-Type":        {mimeType},
		"Content-Disposition": {fmt.Sprintf(`form-data; name="file"; filename="%s"`, fileNameForMimeType(mimeType))},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to copy file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/files", &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.token())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		bodyBytes, _ := io.ReadAll(resp.Body)
		// Refresh the cached token for subsequent requests; this request
		// still fails, the pipeline performs no retries
		if refreshErr := s.refreshAccessToken(ctx); refreshErr != nil {
			s.logger.Warn("Token refresh after 401 failed", zap.Error(refreshErr))
		}
		return "", fmt.Errorf("upload failed with status 401: %s", string(bodyBytes))
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var uploadResp struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploadResp); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}

	s.logger.Debug("File uploaded to GigaChat", zap.String("file_id", uploadResp.ID))

	return uploadResp.ID, nil
}

// visionCompletion asks the model for the extraction JSON with the uploaded
// file attached. Endpoint: POST /chat/completions
func (s *VisionService) visionCompletion(ctx context.Context, fileID string) (string, error) {
	requestBody := map[string]any{
		"model": "GigaChat",
		"messages": []map[string]any{
			{
				"role":        "user",
				"content":     extractionInstruction,
				"attachments": [][]string{{fileID}}, // array of arrays: [["file_id"]]
			},
		},
		"temperature": 0.1,
		"stream":      false,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("vision API failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var visionResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&visionResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(visionResp.Choices) == 0 {
		return "", fmt.Errorf("no response from vision API")
	}

	return visionResp.Choices[0].Message.Content, nil
}

func fileNameForMimeType(mimeType string) string {
	switch mimeType {
	case "image/png":
		return "invoice.png"
	case "application/pdf":
		return "invoice.pdf"
	default:
		return "invoice.jpg"
	}
}
