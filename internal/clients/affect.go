package clients

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"screening-session-service/internal/models"
)

const (
	// DefaultAffectLabel is used when the backend omits the label.
	DefaultAffectLabel = "Neutral"
	// DefaultAffectConfidence is used when the backend omits the confidence (percent scale).
	DefaultAffectConfidence = 100.0
)

// --- Affect (/predict_emotion) ---
type AffectResponse struct {
	Emotion    *string  `json:"emotion"`
	Confidence *float64 `json:"confidence"`
}

// Affect calls the facial-affect inference endpoint.
type Affect struct {
	http    *HTTP
	baseURL string
	now     func() time.Time
}

// NewAffect creates a client for the affect backend at baseURL.
func NewAffect(h *HTTP, baseURL string) *Affect {
	return &Affect{http: h, baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}
}

// InferAffect uploads one JPEG frame and returns the normalized reading.
func (a *Affect) InferAffect(ctx context.Context, jpeg []byte) (models.AffectSnapshot, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "capture.jpg")
	if err != nil {
		return models.AffectSnapshot{}, fmt.Errorf("affect: create form file: %w", err)
	}
	if _, err := fw.Write(jpeg); err != nil {
		return models.AffectSnapshot{}, fmt.Errorf("affect: write frame: %w", err)
	}
	if err := mw.Close(); err != nil {
		return models.AffectSnapshot{}, fmt.Errorf("affect: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/predict_emotion", &body)
	if err != nil {
		return models.AffectSnapshot{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out AffectResponse
	if err := a.http.do(ctx, "affect", req, &out); err != nil {
		return models.AffectSnapshot{}, err
	}

	label := DefaultAffectLabel
	if out.Emotion != nil {
		label = NormalizeLabel(*out.Emotion)
	}
	confidence := DefaultAffectConfidence
	if out.Confidence != nil {
		confidence = *out.Confidence
	}
	return models.AffectSnapshot{
		Label:      label,
		Confidence: confidence,
		CapturedAt: a.now().UTC(),
	}, nil
}

// NormalizeLabel upper-cases the first letter and lower-cases the rest.
// A blank label becomes DefaultAffectLabel.
func NormalizeLabel(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultAffectLabel
	}
	r, size := utf8.DecodeRuneInString(raw)
	return string(unicode.ToUpper(r)) + strings.ToLower(raw[size:])
}
