// Package alert holds the pure decision logic mapping CO2 readings to
// lighting actions. Thresholds, the re-trigger debounce and the post-alert
// clear-confirmation window are fixed policy, not configuration.
package alert
