// Package status keeps the last-known state of every accessory: its
// descriptor, whether it is online, and the most recent value of each
// characteristic it reported.
package status
