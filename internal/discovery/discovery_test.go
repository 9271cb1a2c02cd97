// ABOUTME: Tests for discovery document parsing and fetching
// ABOUTME: Uses a fixture shaped like a SuPA/Safnari discovery document

package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const discoveryDoc = `<?xml version="1.0" encoding="UTF-8"?>
<nsa:nsa xmlns:nsa="http://schemas.ogf.org/nsi/2014/02/discovery/nsa"
         id="urn:ogf:network:example.net:2013:nsa:safnari"
         version="2026-08-01T00:00:00Z"
         expires="2027-08-01T00:00:00Z">
  <interface>
    <type>application/vnd.ogf.nsi.topology.v2+xml</type>
    <href>https://nsa.example.net/topology</href>
  </interface>
  <interface>
    <type>application/vnd.ogf.nsi.cs.v2.provider+soap</type>
    <href>https://nsa.example.net/nsi-v2/ConnectionServiceProvider</href>
  </interface>
</nsa:nsa>`

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(discoveryDoc))
	require.NoError(t, err)

	assert.Equal(t, "urn:ogf:network:example.net:2013:nsa:safnari", doc.NSAID)
	assert.Equal(t, "2026-08-01T00:00:00Z", doc.Version)
	assert.Equal(t, 2027, doc.Expires.Year())

	endpoint, err := doc.ProviderEndpoint()
	require.NoError(t, err)
	assert.Equal(t, "https://nsa.example.net/nsi-v2/ConnectionServiceProvider", endpoint)

	assert.Equal(t, "https://nsa.example.net/topology", doc.Services[TopologyType])
}

func TestParseNoProviderEndpoint(t *testing.T) {
	doc, err := Parse([]byte(`<nsa:nsa xmlns:nsa="http://schemas.ogf.org/nsi/2014/02/discovery/nsa" id="x" version="1">
		<interface>
			<type>application/vnd.ogf.nsi.topology.v2+xml</type>
			<href>https://nsa.example.net/topology</href>
		</interface>
	</nsa:nsa>`))
	require.NoError(t, err)

	_, err = doc.ProviderEndpoint()
	assert.ErrorIs(t, err, ErrNoProviderEndpoint)
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse([]byte("not a document"))
	assert.Error(t, err)
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, discoveryDoc)
	}))
	defer srv.Close()

	doc, err := NewClient().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "urn:ogf:network:example.net:2013:nsa:safnari", doc.NSAID)
}

func TestFetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient().Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
