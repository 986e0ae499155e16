// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files and SCRIPTBOX_* environment variables. It
// covers server settings, sandbox resource limits, and logging. Configuration
// is loaded exactly once at startup; the resulting Config is treated as
// immutable and handed read-only to every other component, including worker
// processes.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Listening on port %d\n", cfg.Server.HTTPPort)
package config
