// Package config loads fetchpool configuration.
//
// Configuration sources are applied in order:
//   - Default values
//   - A YAML or TOML file (chosen by extension)
//   - FETCHPOOL_ environment variables
//   - Command-line flags, applied by the caller
//
// Byte sizes accept human readable values such as "1MiB" or "512kB".
// Durations use time.ParseDuration syntax.
//
// # Example
//
//	listen: 127.0.0.1:7467
//	agents: 4
//	download:
//	  flush_size: 1MiB
//	  timeout: 30s
//	retry:
//	  attempts: 3
package config
