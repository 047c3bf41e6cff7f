// Package guilds implements REST API handlers for guild operations including
// creating, updating, and deleting guilds, managing members, roles, bans,
// invites, emoji, and the audit log. Mounted under /api/v1/guilds.
// Handlers will be fully implemented in Phase 2.
package guilds
