// Package admin implements REST API handlers for instance administration
// including viewing and updating instance settings, managing federation peers,
// and retrieving server statistics. Mounted under /api/v1/admin.
// Handlers will be fully implemented in Phase 2.
package admin
