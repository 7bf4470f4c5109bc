// Package analytics summarizes usage records and derives cost optimization
// recommendations from them.
//
// Everything here is a pure function of its input records; reading the
// records and handling storage errors is the caller's job.
package analytics
