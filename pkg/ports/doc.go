// Package ports defines the interfaces the pipeline depends on. Adapters
// under pkg/adapters implement them.
package ports
