// Package publicaddr works out the address players should connect to when
// no tunnel endpoint is available.
//
// An explicit server-ip in server.properties wins. Otherwise the machine's
// public IP is fetched from a lookup service and joined with the server
// port.
package publicaddr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/magiconair/properties"
)

// Source values.
const (
	SourceProperties = "server.properties"
	SourceLookup     = "lookup"
)

// DefaultPort is the vanilla server port.
const DefaultPort = 25565

// maxLookupBody caps the lookup response; an IP address is tiny.
const maxLookupBody = 256

// ErrNoAddress is returned when neither source produced an address.
var ErrNoAddress = errors.New("no public address available")

// Address is a resolved endpoint.
type Address struct {
	Host   string `json:"host"`
	Port   int    `json:"port,omitempty"`
	Source string `json:"source"`
}

// String renders host or host:port.
func (a Address) String() string {
	if a.Port == 0 {
		return a.Host
	}
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Resolver looks up the public address.
type Resolver struct {
	PropertiesFile string
	LookupURL      string
	DefaultPort    int
	Client         *http.Client
}

// NewResolver returns a resolver with a bounded HTTP client.
func NewResolver(propertiesFile, lookupURL string, defaultPort int, timeout time.Duration) *Resolver {
	if defaultPort == 0 {
		defaultPort = DefaultPort
	}
	return &Resolver{
		PropertiesFile: propertiesFile,
		LookupURL:      lookupURL,
		DefaultPort:    defaultPort,
		Client:         &http.Client{Timeout: timeout},
	}
}

// Resolve returns the configured server-ip, or the looked-up public IP
// with the server port.
func (r *Resolver) Resolve(ctx context.Context) (Address, error) {
	props, err := ReadProperties(r.PropertiesFile)
	if err != nil {
		return Address{}, fmt.Errorf("reading %s: %w", r.PropertiesFile, err)
	}

	if ip := strings.TrimSpace(props.GetString("server-ip", "")); ip != "" {
		return Address{Host: ip, Source: SourceProperties}, nil
	}

	port := r.DefaultPort
	if p, err := strconv.Atoi(strings.TrimSpace(props.GetString("server-port", ""))); err == nil && p > 0 && p <= 65535 {
		port = p
	}

	if r.LookupURL == "" {
		return Address{}, ErrNoAddress
	}
	ip, err := r.lookup(ctx)
	if err != nil {
		return Address{}, err
	}
	return Address{Host: ip, Port: port, Source: SourceLookup}, nil
}

func (r *Resolver) lookup(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.LookupURL, nil)
	if err != nil {
		return "", fmt.Errorf("building lookup request: %w", err)
	}
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("public IP lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("public IP lookup: unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLookupBody))
	if err != nil {
		return "", fmt.Errorf("reading lookup response: %w", err)
	}

	ip := strings.TrimSpace(string(body))
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("public IP lookup returned %q: %w", ip, ErrNoAddress)
	}
	return ip, nil
}

// ReadProperties loads a server.properties file. A missing file yields an
// empty set. ${...} references are left as written.
func ReadProperties(path string) (*properties.Properties, error) {
	if path == "" {
		return properties.NewProperties(), nil
	}
	loader := properties.Loader{
		Encoding:         properties.UTF8,
		DisableExpansion: true,
	}
	props, err := loader.LoadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return properties.NewProperties(), nil
	}
	return props, err
}
