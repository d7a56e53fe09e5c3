// Package store declares the persistence contract for batch progress. It holds
// types and interfaces only; implementations live under internal/storage.
package store
