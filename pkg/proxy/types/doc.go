// Package types defines the JSON bodies the gateway writes for its own
// errors.
package types
