package dialogue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"voiceavatar/agent/internal/iam"
)

type WatsonConfig struct {
	URL     string // service base URL
	Version string // API version date
}

// Watson is a Watson Assistant v2 client. httpc must attach credentials, see
// iam.Authenticator.Client.
type Watson struct {
	cfg   WatsonConfig
	httpc *http.Client
}

func NewWatson(cfg WatsonConfig, httpc *http.Client) *Watson {
	if cfg.Version == "" {
		cfg.Version = "2019-02-28"
	}
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Watson{cfg: cfg, httpc: httpc}
}

type messageRequest struct {
	Input struct {
		MessageType string `json:"message_type"`
		Text        string `json:"text"`
	} `json:"input"`
}

type messageResponse struct {
	Output struct {
		Generic []struct {
			ResponseType string `json:"response_type"`
			Text         string `json:"text"`
		} `json:"generic"`
		Intents []struct {
			Intent     string  `json:"intent"`
			Confidence float64 `json:"confidence"`
		} `json:"intents"`
	} `json:"output"`
}

func (w *Watson) endpoint(path string) string {
	q := url.Values{}
	q.Set("version", w.cfg.Version)
	return w.cfg.URL + path + "?" + q.Encode()
}

func (w *Watson) CreateSession(ctx context.Context, assistantID string) (Session, error) {
	var out struct {
		SessionID string `json:"session_id"`
	}
	path := "/v2/assistants/" + url.PathEscape(assistantID) + "/sessions"
	if err := w.do(ctx, "create_session", http.MethodPost, path, nil, &out); err != nil {
		return Session{}, err
	}
	if out.SessionID == "" {
		return Session{}, fmt.Errorf("%w: assistant returned empty session id", iam.ErrServiceUnavailable)
	}
	log.Printf("[dialogue] session created id=%s", out.SessionID)
	return Session{ID: out.SessionID, AssistantID: assistantID}, nil
}

func (w *Watson) SendMessage(ctx context.Context, session Session, text string) (Reply, error) {
	var req messageRequest
	req.Input.MessageType = "text"
	req.Input.Text = text

	var resp messageResponse
	path := "/v2/assistants/" + url.PathEscape(session.AssistantID) + "/sessions/" + url.PathEscape(session.ID) + "/message"
	if err := w.do(ctx, "message", http.MethodPost, path, req, &resp); err != nil {
		return Reply{}, err
	}

	var reply Reply
	for _, g := range resp.Output.Generic {
		if g.ResponseType == "" || g.ResponseType == "text" {
			reply.Text = g.Text
			break
		}
	}
	if len(resp.Output.Intents) > 0 {
		reply.Intent = resp.Output.Intents[0].Intent
	}
	return reply, nil
}

func (w *Watson) DeleteSession(ctx context.Context, session Session) error {
	path := "/v2/assistants/" + url.PathEscape(session.AssistantID) + "/sessions/" + url.PathEscape(session.ID)
	if err := w.do(ctx, "delete_session", http.MethodDelete, path, nil, nil); err != nil {
		return err
	}
	log.Printf("[dialogue] session deleted id=%s", session.ID)
	return nil
}

func (w *Watson) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("dialogue %s: encode: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, w.endpoint(path), body)
	if err != nil {
		return fmt.Errorf("dialogue %s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := w.httpc.Do(req)
	if err != nil {
		metricRequests.WithLabelValues(op, "transport").Inc()
		return iam.TransportError("dialogue "+op, err)
	}
	defer resp.Body.Close()
	metricLatencyMs.WithLabelValues(op).Observe(float64(time.Since(start).Milliseconds()))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metricRequests.WithLabelValues(op, fmt.Sprint(resp.StatusCode)).Inc()
		return iam.StatusError("dialogue "+op, resp)
	}
	metricRequests.WithLabelValues(op, "ok").Inc()
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: dialogue %s: decode: %v", iam.ErrServiceUnavailable, op, err)
	}
	return nil
}
