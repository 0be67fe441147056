// Package config handles configuration loading for loom-gateway.
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
//	providers:
//	  openai:
//	    api_key: "${OPENAI_API_KEY}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	chat:
//	  request_timeout: "90s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # API
//
// Database:
//
//	database:
//	  path: "/var/lib/loom/gateway.db"
//
// Providers (a provider is registered only when its api_key is set):
//
//	providers:
//	  openai:
//	    api_key: "${OPENAI_API_KEY}"
//	    base_url: "https://api.openai.com"
//	    models: ["gpt-4o", "gpt-4o-mini"]
//	    timeout: "60s"
//	  anthropic:
//	    api_key: "${ANTHROPIC_API_KEY}"
//
// Chat defaults and policies:
//
//	chat:
//	  default_provider: "openai"
//	  default_model: "gpt-4o"
//	  token_budget: 8000
//	  request_timeout: "2m"
//	  enable_fallback: false
//	  strict_window: false
//	  fail_on_empty_window: false
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - HTTP address and database path presence
//   - At least one provider with an API key
//   - Default provider consistency with provider sections
//   - Duration format validity
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/loom/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
