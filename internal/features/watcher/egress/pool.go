package egress

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"market-watch/internal/core"

	"github.com/google/uuid"
)

// sessionPlaceholder in a proxy URL is replaced by a fresh token on every
// request, which back-connect providers use to pin a new sticky exit.
const sessionPlaceholder = "{session}"

// Endpoint is one egress path handed out by a Pool. A nil Proxy means direct.
type Endpoint struct {
	Proxy *url.URL
}

// Label is safe to log: proxy passwords are redacted.
func (e Endpoint) Label() string {
	if e.Proxy == nil {
		return "direct"
	}
	return e.Proxy.Redacted()
}

// Pool produces candidate egress paths.
type Pool interface {
	Next(ctx context.Context) (Endpoint, error)
}

// StaticPool rotates through a fixed list of proxy URL templates.
type StaticPool struct {
	mu        sync.Mutex
	templates []string
	next      int
}

// NewStaticPool validates every template. Supported schemes are http, https
// and socks5.
func NewStaticPool(templates []string) (*StaticPool, error) {
	if len(templates) == 0 {
		return nil, core.NewConfigurationError("proxy pool is empty", nil)
	}
	for _, tpl := range templates {
		if _, err := renderProxy(tpl, "probe"); err != nil {
			return nil, err
		}
	}
	return &StaticPool{templates: append([]string(nil), templates...)}, nil
}

// Next returns the next proxy in round-robin order.
func (p *StaticPool) Next(ctx context.Context) (Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return Endpoint{}, err
	}

	p.mu.Lock()
	tpl := p.templates[p.next%len(p.templates)]
	p.next++
	p.mu.Unlock()

	u, err := renderProxy(tpl, strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	if err != nil {
		return Endpoint{}, err
	}
	return Endpoint{Proxy: u}, nil
}

func renderProxy(tpl, token string) (*url.URL, error) {
	u, err := url.Parse(strings.ReplaceAll(tpl, sessionPlaceholder, token))
	if err != nil {
		return nil, core.NewConfigurationError("invalid proxy URL", err)
	}
	switch u.Scheme {
	case "http", "https", "socks5":
	default:
		return nil, core.NewConfigurationError(fmt.Sprintf("unsupported proxy scheme %q", u.Scheme), nil)
	}
	if u.Host == "" {
		return nil, core.NewConfigurationError("proxy URL has no host", nil)
	}
	return u, nil
}

// DirectPool hands out the host's own network path.
type DirectPool struct{}

// Next always returns the direct endpoint.
func (DirectPool) Next(ctx context.Context) (Endpoint, error) {
	return Endpoint{}, ctx.Err()
}
