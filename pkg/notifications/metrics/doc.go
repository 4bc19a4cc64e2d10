// Package metrics implements notifications.Observer with Prometheus
// collectors. Pass the observer to the dispatcher and retry scheduler and
// expose the registry through promhttp.
package metrics
