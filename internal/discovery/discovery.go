// ABOUTME: Provider NSA discovery document fetching and parsing
// ABOUTME: Resolves the CS provider SOAP endpoint from a discovery URL

package discovery

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// SOAPProviderType is the interface type of the CS v2 provider endpoint
// inside a discovery document.
const SOAPProviderType = "application/vnd.ogf.nsi.cs.v2.provider+soap"

// TopologyType is the interface type of the NML topology document.
const TopologyType = "application/vnd.ogf.nsi.topology.v2+xml"

// ErrNoProviderEndpoint indicates the discovery document carried no CS
// provider SOAP interface.
var ErrNoProviderEndpoint = errors.New("discovery document has no provider SOAP endpoint")

const maxDocumentBytes = 1 << 20

// Document is a parsed NSA discovery document.
type Document struct {
	NSAID    string
	Version  string
	Expires  time.Time
	Services map[string]string
}

// ProviderEndpoint returns the CS provider SOAP URL from the document.
func (d *Document) ProviderEndpoint() (string, error) {
	href, ok := d.Services[SOAPProviderType]
	if !ok || href == "" {
		return "", ErrNoProviderEndpoint
	}
	return href, nil
}

type discoveryXML struct {
	XMLName    xml.Name `xml:"http://schemas.ogf.org/nsi/2014/02/discovery/nsa nsa"`
	ID         string   `xml:"id,attr"`
	Version    string   `xml:"version,attr"`
	Expires    string   `xml:"expires,attr"`
	Interfaces []struct {
		Type string `xml:"type"`
		Href string `xml:"href"`
	} `xml:"interface"`
}

// Parse decodes a discovery document.
func Parse(data []byte) (*Document, error) {
	var raw discoveryXML
	if err := xml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing discovery document: %w", err)
	}

	doc := &Document{
		NSAID:    raw.ID,
		Version:  raw.Version,
		Services: make(map[string]string, len(raw.Interfaces)),
	}
	if raw.Expires != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw.Expires); err == nil {
			doc.Expires = t
		}
	}
	for _, iface := range raw.Interfaces {
		doc.Services[iface.Type] = iface.Href
	}
	return doc, nil
}

// Client fetches discovery documents over HTTP.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a discovery client.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     slog.Default().With("component", "discovery"),
	}
}

// Fetch retrieves and parses the discovery document at the given URL.
func (c *Client) Fetch(ctx context.Context, url string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building discovery request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery endpoint returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("reading discovery document: %w", err)
	}

	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}

	c.logger.Info("discovered provider NSA",
		"nsa_id", doc.NSAID,
		"services", len(doc.Services))
	return doc, nil
}
