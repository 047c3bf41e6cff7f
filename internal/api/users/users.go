// Package users implements REST API handlers for user operations including
// fetching user profiles, updating settings, managing relationships (friends,
// blocks), and DM creation. Mounted under /api/v1/users.
// Handlers will be fully implemented in Phase 2.
package users
