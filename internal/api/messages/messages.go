// Package messages implements REST API handlers for message operations including
// sending, editing, deleting, and paginating messages within channels. This
// package handles message-specific logic while the channel package handles
// the routing. Handlers will be fully implemented in Phase 2.
package messages
