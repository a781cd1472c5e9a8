// Package storage provides job record store implementations.
//
// Implementations:
//   - sqlite: embedded SQLite database with WAL journaling (default)
//   - redis: Redis with JSON serialization and optimistic transactions
//   - memory: In-memory for testing
package storage
