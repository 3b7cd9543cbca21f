// Package config loads the magebox tool configuration.
//
// The configuration lives in ~/.magebox/config.yml. The file is optional and
// every field has a default. Loading happens in three steps:
//
//   - the YAML document is checked against an embedded CUE schema, which
//     rejects unknown keys and malformed durations, levels or exporters
//   - the document is decoded over Default() with yaml.v3
//   - the result is validated with go-playground/validator
//
// # Example
//
//	environments:
//	  - /home/dev/projects/shop
//	timeouts:
//	  build: 20m
//	sync:
//	  ignore: [/var/cache, /pub/static]
//	telemetry:
//	  log_level: debug
//	  tracing:
//	    exporter: otlp
//	    endpoint: localhost:4317
package config
