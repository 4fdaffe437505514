// Package core holds the domain model of the daemon: per-account
// credentials and their lifecycle state machine, the persisted cache
// snapshot, the credential registry that decides when a cached token may be
// used, and the error taxonomy every other package maps into.
package core
