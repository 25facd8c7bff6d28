// Package mcp exposes the accessory network to MCP clients over SSE.
//
// Tools:
//   - list_accessories: last-known state of every accessory
//   - read_characteristic: read one characteristic through the provider
//   - write_characteristic: write a characteristic through the provider
package mcp
