// Package config handles loading and validating Brew Bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (BREWBRIDGE_*)
//   - Validation of required fields
//   - Watching the file for changes and delivering validated reloads
//
// Security Considerations:
//   - MQTT passwords and InfluxDB tokens should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Reload Semantics:
//   - Only device settings (name, temperature unit, logging interval) are
//     applied to a running session; transport and server changes need a restart
//   - An invalid file on reload is logged and ignored, the previous config stays active
//
// Usage:
//
//	cfg, err := config.Load("configs/brewbridge.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Device.Name)
package config
