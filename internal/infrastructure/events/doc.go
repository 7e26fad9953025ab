// Package events writes authentication telemetry to InfluxDB.
//
// Gatehouse records sign-ins, failed logins, token refreshes, and role
// changes as time-series points so operators can alert on anomalies
// (credential stuffing, privilege-escalation bursts) without querying the
// primary database.
//
// The sink is optional: when events.enabled is false in config.yaml the
// service runs without it and Connect returns ErrDisabled. Writes are
// non-blocking and batched; a slow or unavailable InfluxDB never delays
// request handling.
//
// The authoritative audit trail is the audit package (SQLite). This
// package is operational telemetry only and may lose points on crash.
package events
