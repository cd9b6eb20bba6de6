// Package state holds the in-memory conversation state: per-context message
// histories, channel and global settings, and the resolver that combines them.
package state
