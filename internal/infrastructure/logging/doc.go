// Package logging is the structured logger shared by the houseflow
// daemons. It is log/slog with the service name and build version stamped
// on every record and with secrets (password, password_hash, token,
// authorization) redacted by key.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Components take a *Logger and narrow it:
//
//	log := logger.Component("presence")
//	log.Info("presence changed", "peer_id", id, "online", true)
package logging
