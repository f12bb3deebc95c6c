package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// --- Interpretation (/predict) ---
type InterpretRequest struct {
	Text      string `json:"text"`
	SubjectID string `json:"patientId,omitempty"`
	OwnerID   string `json:"ownerUsername,omitempty"`
}

type InterpretResponse struct {
	SessionID     string  `json:"session_id"`
	Message       *string `json:"bot_message"`
	QuestionIndex *int    `json:"question_id"`
	Severity      *int    `json:"severity"`
}

// --- Session close (/stop-session/{id}) ---
type CloseRequest struct {
	OwnerID          string   `json:"ownerUsername,omitempty"`
	SubjectID        string   `json:"patientId,omitempty"`
	SubjectName      string   `json:"patientName,omitempty"`
	SubjectAge       *int     `json:"patientAge,omitempty"`
	SubjectGender    string   `json:"patientGender,omitempty"`
	AffectLabel      string   `json:"emotion,omitempty"`
	AffectConfidence *float64 `json:"emotionConfidence,omitempty"`
}

type CloseResponse struct {
	Message       string         `json:"message"`
	TotalScore    *int           `json:"total_score"`
	SeverityBand  string         `json:"severity_band"`
	SeverityTally map[string]int `json:"severity_tally"`
}

// Conversation calls the interpretation and session-close endpoints.
type Conversation struct {
	http    *HTTP
	baseURL string
}

// NewConversation creates a client for the conversation backend at baseURL.
func NewConversation(h *HTTP, baseURL string) *Conversation {
	return &Conversation{http: h, baseURL: strings.TrimRight(baseURL, "/")}
}

// Interpret posts one utterance. An empty sessionID asks the backend to allocate one.
func (c *Conversation) Interpret(ctx context.Context, sessionID string, in InterpretRequest) (*InterpretResponse, error) {
	u := c.baseURL + "/predict"
	if sessionID != "" {
		u += "?" + url.Values{"session_id": {sessionID}}.Encode()
	}

	b, _ := json.Marshal(in)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out InterpretResponse
	if err := c.http.do(ctx, "interpret", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CloseSession ends sessionID and returns the screening outcome.
func (c *Conversation) CloseSession(ctx context.Context, sessionID string, in CloseRequest) (*CloseResponse, error) {
	u := c.baseURL + "/stop-session/" + url.PathEscape(sessionID)

	b, _ := json.Marshal(in)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out CloseResponse
	if err := c.http.do(ctx, "close", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
