// Package report runs periodic usage reports for the limits service.
//
// On each cron tick the scheduler computes usage statistics and cost
// recommendations for every configured service, logs them and exports
// them as Prometheus gauges.
package report
