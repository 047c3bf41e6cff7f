// Package search integrates with Meilisearch to provide full-text search across
// messages, users, guilds, and channels. It handles index management, document
// synchronization, and search query execution.
// This package will be implemented in v0.2.0.
package search
