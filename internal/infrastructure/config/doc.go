// Package config handles loading and validating houseflow configuration.
//
// Both daemons read the same file format; the role field selects which
// sections are validated:
//
//	role: hub
//	hub:
//	  id: "9c5e5b4e-3d7e-4a53-9a49-6f0b0f6c8a11"
//	  name: "Home"
//	accessories:
//	  - id: "37c6a8bd-264c-4653-a641-c9b574207be5"
//	    name: "Garage"
//	    room_name: "Outside"
//	    manufacturer: "houseflow"
//	    model: "garage"
//	    password_hash: "$argon2id$v=19$m=65536,t=3,p=1$…"
//	uplink:
//	  enabled: true
//	  url: "wss://houseflow.example.com/websocket"
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (HOUSEFLOW_*)
//   - Validation of required fields, collecting every problem at once
//   - Default value handling
//
// Security Considerations:
//   - Peer passwords are stored as Argon2id hashes, never in plain text
//   - The uplink password should be set via HOUSEFLOW_UPLINK_PASSWORD
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/hub.yaml", config.RoleHub)
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
