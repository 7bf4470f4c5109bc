// Package metrics owns the Prometheus registry of the process and serves
// it over HTTP.
//
// Components do not use the global registry. They receive
// Collector.Registerer() and register their own collectors, which keeps
// tests isolated.
package metrics
