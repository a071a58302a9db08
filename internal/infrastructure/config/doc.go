// Package config handles loading and validating forgerunner configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (FORGERUNNER_*)
//   - Validation of required fields
//   - Default value handling
//
// The supervisor must also run with no configuration file at all, the way an
// operator drops it next to a server jar and starts it. LoadOrDefault
// tolerates a missing file; Load does not.
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The JWT secret is only required when the HTTP API is enabled
//
// Usage:
//
//	cfg, err := config.LoadOrDefault("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Server.Dir)
package config
