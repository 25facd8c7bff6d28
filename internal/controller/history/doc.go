// Package history is a controller that keeps characteristic values and
// connectivity transitions in SQLite, for the accessory history endpoint.
package history
