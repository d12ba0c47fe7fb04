package egress

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Prober resolves the region an HTTP client egresses from.
type Prober interface {
	Probe(ctx context.Context, client *http.Client) (string, error)
}

// HTTPProber asks a reverse-geolocation endpoint that returns JSON with a
// country code field.
type HTTPProber struct {
	URL       string
	UserAgent string
}

// Probe returns the upper-cased country code reported for the client's exit.
func (p HTTPProber) Probe(ctx context.Context, client *http.Client) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return "", err
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geo probe status: %d", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode geo probe: %w", err)
	}

	for _, key := range []string{"countryCode", "country_code", "country"} {
		if code, ok := body[key].(string); ok && code != "" {
			return strings.ToUpper(strings.TrimSpace(code)), nil
		}
	}
	return "", fmt.Errorf("geo probe response has no country code")
}
