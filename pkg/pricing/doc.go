// Package pricing converts model token usage into USD.
//
// Prices are configured per model (or model-name prefix) per 1K input and
// output tokens. The calculator also classifies models as premium by their
// blended price, which drives model-selection recommendations.
package pricing
