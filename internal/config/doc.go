// Package config handles configuration loading for aura.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	provider:
//	  soap_url: "${AURA_PROVIDER_URL}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	timeouts:
//	  operation: "2m"
//	  query: "30s"
//	  sweep_interval: "1s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:9080"  # Callback listener and operator API
//
// Requester identity:
//
//	requester:
//	  nsa_id: "urn:ogf:network:example.org:2013:nsa:aura"
//	  reply_to_url: "http://aura.example.org:9080/nsi/callback"
//
// Provider endpoint (one of soap_url or discovery_url):
//
//	provider:
//	  nsa_id: "urn:ogf:network:example.net:2013:nsa:safnari"
//	  soap_url: "https://nsa.example.net/nsi-v2/ConnectionServiceProvider"
//	  discovery_url: "https://nsa.example.net/nsa-discovery"
//
// Database:
//
//	database:
//	  path: "/var/lib/aura/aura.db"
//
// Fault policy (optional, hot-reloaded when present):
//
//	policy:
//	  path: "/etc/aura/policy.toml"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/aura/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
