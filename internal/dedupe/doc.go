// Package dedupe tracks recently claimed publish keys so a producer that
// retries a POST after a timeout does not fan the same event out twice.
package dedupe
