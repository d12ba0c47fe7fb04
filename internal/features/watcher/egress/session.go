package egress

import (
	"net/http"
	"net/http/cookiejar"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"
)

// Outcome is what the caller observed while using a session.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeGeoMismatch
	OutcomeTransportFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeGeoMismatch:
		return "geo_mismatch"
	case OutcomeTransportFailure:
		return "transport_failure"
	default:
		return "unknown"
	}
}

// Session is a fetch capability bound to one validated egress path. It owns
// an HTTP transport, a cookie jar and a scratch workspace directory, all of
// which are released when the manager destroys it.
type Session struct {
	ID        string
	Endpoint  Endpoint
	Region    string
	Validated bool
	CreatedAt time.Time
	Failures  int
	Uses      int
	Workspace string

	transport  *http.Transport
	client     *http.Client
	generation int
	destroyed  bool
}

func newSession(endpoint Endpoint, workspaceRoot string, generation int) (*Session, error) {
	id := uuid.NewString()

	workspace, err := os.MkdirTemp(workspaceRoot, "session-"+id[:8]+"-")
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		os.RemoveAll(workspace)
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	if endpoint.Proxy != nil {
		transport.Proxy = http.ProxyURL(endpoint.Proxy)
	}

	return &Session{
		ID:         id,
		Endpoint:   endpoint,
		CreatedAt:  time.Now(),
		Workspace:  workspace,
		transport:  transport,
		client:     &http.Client{Transport: transport, Jar: jar},
		generation: generation,
	}, nil
}

// Client returns the session's HTTP client. Callers set per-request
// deadlines through the request context.
func (s *Session) Client() *http.Client {
	return s.client
}

// Transport returns the session's round tripper.
func (s *Session) Transport() http.RoundTripper {
	return s.transport
}

// Jar returns the session's cookie jar.
func (s *Session) Jar() http.CookieJar {
	return s.client.Jar
}

// destroy releases every resource the session holds. It is idempotent.
func (s *Session) destroy() error {
	if s.destroyed {
		return nil
	}
	s.destroyed = true
	s.transport.CloseIdleConnections()
	return os.RemoveAll(s.Workspace)
}
