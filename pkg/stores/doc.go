// Package stores provides the durable order store backing the in-memory
// registry. The SQLite implementation writes orders through on every state
// change and replays the non-closed ones into the registry on startup.
package stores
