// Package config loads runtime configuration from an optional YAML file,
// an optional .env file and LTHREAD_* environment variables.
//
//	log:
//	  level: debug
//	  format: json
//	threads:
//	  max: 64
//	wasm:
//	  enabled: true
//	  memory_pages: 256
package config
