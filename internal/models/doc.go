// Package models defines domain entities and persistence interfaces for the jamgate credential gateway.
//
// The central entity is [User], a locally-known identity mirroring a Spotify
// account. Users are keyed by the provider-assigned external ID; the display
// name is provider-supplied and not authoritative for identity.
//
// All persistent entities implement the [Model] interface providing ID
// generation, timestamps, and validation. The [Repository] interface defines
// standard CRUD operations for database access.
package models
