// Package presence is a controller that keeps the set of connected
// accessories, their descriptors and their last-known characteristic
// values in Redis.
package presence
