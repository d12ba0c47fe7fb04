package mailer

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

//go:embed "templates"
var templateFS embed.FS

// DefaultEndpoint is the SMTP2GO send API.
const DefaultEndpoint = "https://api.smtp2go.com/v3/email/send"

type Mailer struct {
	apiKey     string
	sender     string
	endpoint   string
	client     *http.Client
	retryDelay time.Duration
}

// SMTP2GO API request structure
type SMTP2GORequest struct {
	APIKey   string   `json:"api_key"`
	To       []string `json:"to"`
	Sender   string   `json:"sender"`
	Subject  string   `json:"subject"`
	TextBody string   `json:"text_body"`
	HtmlBody string   `json:"html_body"`
}

// SMTP2GO API response structure
type SMTP2GOResponse struct {
	RequestID string `json:"request_id"`
	Data      struct {
		Succeeded int    `json:"succeeded"`
		Failed    int    `json:"failed"`
		EmailID   string `json:"email_id"`
	} `json:"data"`
}

func New(apiKey, sender string) Mailer {
	return NewWithEndpoint(apiKey, sender, DefaultEndpoint)
}

// NewWithEndpoint creates a mailer that posts to endpoint instead of the
// public SMTP2GO API.
func NewWithEndpoint(apiKey, sender, endpoint string) Mailer {
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	return Mailer{
		apiKey:     apiKey,
		sender:     sender,
		endpoint:   endpoint,
		client:     client,
		retryDelay: 500 * time.Millisecond,
	}
}

// Send renders the subject, plainBody and htmlBody blocks of templateFile
// with data and sends the result, retrying up to three times.
func (m Mailer) Send(ctx context.Context, recipient, templateFile string, data any) error {
	tmpl, err := template.New("email").ParseFS(templateFS, "templates/"+templateFile)
	if err != nil {
		return err
	}

	subject := new(bytes.Buffer)
	err = tmpl.ExecuteTemplate(subject, "subject", data)
	if err != nil {
		return err
	}

	plainBody := new(bytes.Buffer)
	err = tmpl.ExecuteTemplate(plainBody, "plainBody", data)
	if err != nil {
		return err
	}

	htmlBody := new(bytes.Buffer)
	err = tmpl.ExecuteTemplate(htmlBody, "htmlBody", data)
	if err != nil {
		return err
	}

	request := SMTP2GORequest{
		APIKey:   m.apiKey,
		To:       []string{recipient},
		Sender:   m.sender,
		Subject:  subject.String(),
		TextBody: plainBody.String(),
		HtmlBody: htmlBody.String(),
	}

	jsonData, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(m.retryDelay), 2), ctx)
	if err := backoff.Retry(func() error { return m.sendViaAPI(ctx, jsonData) }, policy); err != nil {
		return fmt.Errorf("failed to send email after 3 attempts: %w", err)
	}
	return nil
}

func (m Mailer) sendViaAPI(ctx context.Context, jsonData []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("API request failed with status: %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}

	var response SMTP2GOResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if response.Data.Failed > 0 {
		return backoff.Permanent(fmt.Errorf("SMTP2GO rejected %d recipient(s)", response.Data.Failed))
	}

	return nil
}
