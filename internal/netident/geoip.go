package netident

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/oschwald/geoip2-golang"
	"github.com/xkilldash9x/veilcore/api/schemas"
	"go.uber.org/zap"
)

// ErrLookupFailed wraps any transport or decode failure from a geo provider.
// Lookup failures never mutate manager state.
var ErrLookupFailed = errors.New("netident: geo lookup failed")

// GeoProvider resolves the current egress identity.
type GeoProvider interface {
	Lookup(ctx context.Context) (*schemas.GeoIPInfo, error)
}

// HTTPProvider queries a JSON geo-IP lookup service (ipapi.co compatible).
type HTTPProvider struct {
	url    string
	client *http.Client
	log    *zap.Logger
}

// NewHTTPProvider builds a provider with its own timeout-bounded client.
func NewHTTPProvider(url string, timeout time.Duration, logger *zap.Logger) *HTTPProvider {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPProvider{
		url:    url,
		client: &http.Client{Timeout: timeout},
		log:    logger.Named("geoip_http"),
	}
}

// geoLookupResponse matches the ipapi.co JSON document. Field names cover the
// common aliases across public lookup services.
type geoLookupResponse struct {
	IP          string  `json:"ip"`
	City        string  `json:"city"`
	Region      string  `json:"region"`
	CountryName string  `json:"country_name"`
	CountryCode string  `json:"country_code"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Timezone    string  `json:"timezone"`
	Org         string  `json:"org"`
	ASN         string  `json:"asn"`
}

func (p *HTTPProvider) Lookup(ctx context.Context) (*schemas.GeoIPInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrLookupFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrLookupFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrLookupFailed, err)
	}

	var doc geoLookupResponse
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode body: %v", ErrLookupFailed, err)
	}
	if doc.IP == "" {
		return nil, fmt.Errorf("%w: document missing ip", ErrLookupFailed)
	}

	return &schemas.GeoIPInfo{
		IP:          doc.IP,
		City:        doc.City,
		Region:      doc.Region,
		CountryName: doc.CountryName,
		CountryCode: doc.CountryCode,
		Latitude:    doc.Latitude,
		Longitude:   doc.Longitude,
		Timezone:    doc.Timezone,
		Org:         doc.Org,
		ASN:         doc.ASN,
		CapturedAt:  time.Now(),
	}, nil
}

// HTTPIPEcho returns an ipEcho func backed by a plain-text echo service such
// as api.ipify.org.
func HTTPIPEcho(url string, timeout time.Duration) func(ctx context.Context) (string, error) {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", err
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("ip echo returned status %d", resp.StatusCode)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
		if err != nil {
			return "", err
		}
		return string(bytes.TrimSpace(body)), nil
	}
}

// MaxMindProvider resolves geo data from a local MaxMind City database. It
// still needs an external echo service for the raw egress IP, since a local
// database cannot know which address the traffic leaves through.
type MaxMindProvider struct {
	reader *geoip2.Reader
	ipEcho func(ctx context.Context) (string, error)
	log    *zap.Logger
}

// NewMaxMindProvider opens the database at dbPath. ipEcho returns the current
// public IP as seen from outside.
func NewMaxMindProvider(dbPath string, ipEcho func(ctx context.Context) (string, error), logger *zap.Logger) (*MaxMindProvider, error) {
	reader, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("netident: open maxmind db %q: %w", dbPath, err)
	}
	return &MaxMindProvider{reader: reader, ipEcho: ipEcho, log: logger.Named("geoip_maxmind")}, nil
}

func (p *MaxMindProvider) Lookup(ctx context.Context) (*schemas.GeoIPInfo, error) {
	ipStr, err := p.ipEcho(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: ip echo: %v", ErrLookupFailed, err)
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return nil, fmt.Errorf("%w: ip echo returned %q", ErrLookupFailed, ipStr)
	}

	city, err := p.reader.City(ip)
	if err != nil {
		return nil, fmt.Errorf("%w: city lookup: %v", ErrLookupFailed, err)
	}

	info := &schemas.GeoIPInfo{
		IP:         ipStr,
		City:       city.City.Names["en"],
		Latitude:   city.Location.Latitude,
		Longitude:  city.Location.Longitude,
		Timezone:   city.Location.TimeZone,
		CapturedAt: time.Now(),
	}
	if len(city.Subdivisions) > 0 {
		info.Region = city.Subdivisions[0].Names["en"]
	}
	info.CountryName = city.Country.Names["en"]
	info.CountryCode = city.Country.IsoCode

	if asn, err := p.reader.ASN(ip); err == nil {
		info.Org = asn.AutonomousSystemOrganization
		info.ASN = "AS" + strconv.Itoa(int(asn.AutonomousSystemNumber))
	}
	return info, nil
}

// Close releases the database handle.
func (p *MaxMindProvider) Close() error {
	return p.reader.Close()
}
