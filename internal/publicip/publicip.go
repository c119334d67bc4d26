// Package publicip discovers the operator's public address from well-known
// echo services.
package publicip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/labforge/labctl/internal/logging"
)

// ErrUndetectable is returned when no service produced an address.
var ErrUndetectable = errors.New("could not determine public ip address")

// DefaultTimeout bounds each service request.
const DefaultTimeout = 10 * time.Second

// Service is one address echo endpoint.
type Service struct {
	Name string
	URL  string
}

// DefaultServices are tried in order.
var DefaultServices = []Service{
	{Name: "ipify", URL: "https://api.ipify.org?format=json"},
	{Name: "ifconfig.co", URL: "https://ifconfig.co/json"},
	{Name: "ipinfo", URL: "https://ipinfo.io/json"},
}

// JSON fields that may carry the address, in lookup order.
var addressFields = []string{"ip", "query", "address"}

// Detector queries services until one answers with a valid address.
type Detector struct {
	Client   *http.Client
	Services []Service
	Timeout  time.Duration
}

func NewDetector() *Detector {
	return &Detector{
		Client:   http.DefaultClient,
		Services: DefaultServices,
		Timeout:  DefaultTimeout,
	}
}

// Detect returns the first address any service reports. Each service is
// asked once.
func (d *Detector) Detect(ctx context.Context) (string, error) {
	var errs []error
	for _, svc := range d.Services {
		addr, err := d.query(ctx, svc)
		if err == nil {
			logging.Debug("public ip detected", "service", svc.Name, "address", addr)
			return addr, nil
		}
		logging.Debug("public ip service failed", "service", svc.Name, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", svc.Name, err))
	}
	return "", fmt.Errorf("%w: %w", ErrUndetectable, errors.Join(errs...))
}

func (d *Detector) query(ctx context.Context, svc Service) (string, error) {
	ctx, cancel := withTimeout(ctx, d.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, svc.URL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	addr, ok := Parse(body)
	if !ok {
		return "", fmt.Errorf("response did not contain an ip address")
	}
	return addr, nil
}

// withTimeout bounds ctx by timeout. A non-positive timeout leaves ctx unbounded.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// Parse extracts an address from a JSON object (fields ip, query or address)
// or from a plain-text body.
func Parse(body []byte) (string, bool) {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err == nil {
		for _, field := range addressFields {
			if s, ok := obj[field].(string); ok && net.ParseIP(strings.TrimSpace(s)) != nil {
				return strings.TrimSpace(s), true
			}
		}
		return "", false
	}

	s := strings.TrimSpace(string(body))
	if net.ParseIP(s) == nil {
		return "", false
	}
	return s, true
}
