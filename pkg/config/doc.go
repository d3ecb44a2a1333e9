// Package config provides configuration management for keyweave.
//
// This package handles loading, validating, and managing configuration from
// YAML files with environment variable overrides. Every section has
// defaults, so a file that only lists keys is a complete configuration.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("config.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("config.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention KEYWEAVE_SECTION_FIELD.
// For example:
//
//   - KEYWEAVE_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - KEYWEAVE_RATE_LIMIT_BACKEND overrides rate_limit.backend
//   - KEYWEAVE_KEY_PRIMARY_CREDENTIAL sets the credential of key "primary"
//
// # Configuration Precedence
//
// Configuration values are applied in the following order (later overrides earlier):
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Hot Reload
//
// Watcher observes the configuration file and hands each successfully
// validated reload to a callback. The gateway uses it to replace the key
// list; other sections take effect on restart.
//
// # Example Configuration
//
//	server:
//	  listen_address: "0.0.0.0:8080"
//	keys:
//	  - id: primary
//	    # credential from KEYWEAVE_KEY_PRIMARY_CREDENTIAL
//	    weight: 200
//	    max_requests_per_minute: 60
//	  - id: backup
//	    credential: "..."
//	    weight: 100
//	optimizer:
//	  default_strategy: balanced
//	  schedule: "*/15 * * * *"
package config
