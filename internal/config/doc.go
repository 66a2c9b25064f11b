// Package config defines configuration for the fetchpush CLI.
//
// Configuration is layered, later sources winning:
//   - Default()
//   - YAML configuration file (LoadFromFile)
//   - a .env file, loaded into the environment (LoadDotEnv)
//   - environment variables with the FETCHPUSH_ prefix (LoadFromEnv)
//   - command-line flags
//
// # Example
//
//	ledger_url: s3://transfers?region=eu-west-1
//	limit: 100
//	timeout: 30s
//	retries: 3
//	cooldown: 10s
//	username: uploader
//	checksum: true
package config
