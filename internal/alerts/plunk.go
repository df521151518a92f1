package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type PlunkConfig struct {
	APIKey  string `env:"PLUNK_API_KEY"`
	From    string `env:"PLUNK_FROM"`
	APIURL  string `env:"PLUNK_API_URL" envDefault:"https://api.useplunk.com/v1/send"`
	ReplyTo string `env:"MAIL_REPLY_TO"`
}

type PlunkMailer struct {
	cfg  PlunkConfig
	http *http.Client
}

func NewPlunkMailer(cfg PlunkConfig) (*PlunkMailer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("plunk not configured: set PLUNK_API_KEY")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.useplunk.com/v1/send"
	}
	return &PlunkMailer{cfg: cfg, http: &http.Client{Timeout: 10 * time.Second}}, nil
}

type plunkSendBody struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	From    string `json:"from,omitempty"`
	Reply   string `json:"reply,omitempty"`
}

func (p *PlunkMailer) Send(ctx context.Context, to, subject, body string) error {
	b, err := json.Marshal(plunkSendBody{
		To:      to,
		Subject: subject,
		Body:    body,
		From:    p.cfg.From,
		Reply:   p.cfg.ReplyTo,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.APIURL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		if len(msg) > 0 {
			return fmt.Errorf("plunk send failed: status=%d body=%s", resp.StatusCode, msg)
		}
		return fmt.Errorf("plunk send failed: status=%d", resp.StatusCode)
	}
	return nil
}
