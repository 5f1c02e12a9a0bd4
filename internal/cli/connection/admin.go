package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/yndnr/seqmesh-go/internal/core/domain"
	"github.com/yndnr/seqmesh-go/internal/infra/buildinfo"
	"github.com/yndnr/seqmesh-go/internal/infra/tlsroots"
)

// AdminClient talks to the admin HTTP API.
type AdminClient struct {
	baseURL string
	secret  string
	client  *http.Client
}

// NewAdminClient creates a client for opts.Admin. The scheme defaults to
// https when opts.TLS is set and http otherwise.
func NewAdminClient(opts Options) (*AdminClient, error) {
	if opts.Admin == "" {
		return nil, domain.ErrConfiguration.WithDetails("admin address is required")
	}

	base := strings.TrimRight(opts.Admin, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		if opts.TLS {
			base = "https://" + base
		} else {
			base = "http://" + base
		}
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if strings.HasPrefix(base, "https://") {
		tlsCfg, err := tlsroots.ClientConfig(tlsroots.ClientOptions{
			CAFile:     opts.CAFile,
			ServerName: opts.ServerName,
		})
		if err != nil {
			return nil, domain.ErrConfiguration.WithDetails("admin tls").WithCause(err)
		}
		transport.TLSClientConfig = tlsCfg
	}

	return &AdminClient{
		baseURL: base,
		secret:  opts.Secret,
		client:  &http.Client{Transport: transport, Timeout: opts.Timeout},
	}, nil
}

// BaseURL returns the resolved admin URL.
func (c *AdminClient) BaseURL() string {
	return c.baseURL
}

// Get performs a GET and decodes the envelope's data into target.
func (c *AdminClient) Get(ctx context.Context, path string, target any) error {
	resp, err := c.do(ctx, http.MethodGet, path)
	if err != nil {
		return err
	}
	return ParseResponse(resp, target)
}

// Post performs a body-less POST and decodes the envelope's data into
// target.
func (c *AdminClient) Post(ctx context.Context, path string, target any) error {
	resp, err := c.do(ctx, http.MethodPost, path)
	if err != nil {
		return err
	}
	return ParseResponse(resp, target)
}

// Download performs a POST and copies the raw body to w. It returns the
// number of bytes copied.
func (c *AdminClient) Download(ctx context.Context, path string, w io.Writer) (int64, error) {
	resp, err := c.do(ctx, http.MethodPost, path)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, ParseResponse(resp, nil)
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, domain.ErrStoreUnavailable.WithDetails("download interrupted").WithCause(err)
	}
	return n, nil
}

func (c *AdminClient) do(ctx context.Context, method, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "seqmesh-cli/"+buildinfo.Version)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, domain.ErrStoreUnavailable.WithDetailsf("%s %s", method, c.baseURL+path).WithCause(err)
	}
	return resp, nil
}

// envelope mirrors the server's JSON response wrapper.
type envelope struct {
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

// ParseResponse decodes an admin response. Error envelopes carrying a known
// code come back as the matching domain error.
func ParseResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	if resp.StatusCode >= 400 {
		if decodeErr != nil || env.Code == "" {
			return fmt.Errorf("request failed with status %d", resp.StatusCode)
		}
		if known, ok := domain.LookupError(env.Code); ok {
			return known.WithDetails(env.Message)
		}
		return domain.NewDomainError(env.Code, env.Message)
	}

	if decodeErr != nil {
		return fmt.Errorf("parse response: %w", decodeErr)
	}
	if target != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, target); err != nil {
			return fmt.Errorf("parse response data: %w", err)
		}
	}
	return nil
}
