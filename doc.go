// Package backend provides the Commune API server.

// This package contains no code of its own. The implementation is
// organized into subpackages:

// - internal/handlers: HTTP request handlers for all API endpoints
// - internal/models: Data models and database schemas
// - internal/auth: Authentication, tokens, and login lockout
// - internal/community: Community lifecycle and membership
// - internal/posts: Posts, comments, voting, and ranking
// - internal/chat: Community channels and direct messages
// - internal/websocket: WebSocket server for real-time updates
// - internal/moderation: Advisory content moderation client
// - internal/cache: Redis-backed read-through cache
// - internal/database: Database connection and migrations
// - internal/middleware: HTTP middleware (request IDs, rate limiting, metrics)
// - internal/seed: Development fixtures

// See the individual package documentation for detailed API reference.
package backend
