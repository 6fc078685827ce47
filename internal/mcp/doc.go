// Package mcp exposes the tool catalog to Model Context Protocol clients.
//
// Every catalog entry, namespaced and bare, becomes an MCP tool whose input
// schema is the tool's parameter schema. tools/call goes through the dispatch
// service, so MCP callers get the same resolution, credential lookup, and
// timeout handling as HTTP callers.
//
// The server is mounted at /mcp behind the gateway's authentication. Bearer
// callers act as themselves. Shared-secret callers name the user whose
// credentials apply with the X-User-ID header.
//
// Tool results are returned as JSON text. Unsuccessful calls are MCP error
// results carrying the full call response, including error_kind and any
// auth_url.
//
// Call Sync after reloading a connector to refresh the advertised tools.
package mcp
