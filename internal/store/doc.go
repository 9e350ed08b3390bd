// Package store provides the gateway's read path into platform storage.
//
// # Architecture
//
// The gateway consults storage only during the Identify handshake: once to
// check the presented token against a stored hash, and once to load the
// guilds the user belongs to. Event routing after that point never touches
// the database.
//
// SQLiteStore implements Store on modernc.org/sqlite. MockStore is an
// in-memory implementation for tests.
//
// # Data Models
//
//   - User: account identity (snowflake ID, name, flags)
//   - token hash: bcrypt hash of the secret half of a gateway token
//   - Guild: owner and name
//   - membership: (guild, user) pairs
//
// IDs are 128-bit snowflakes stored as decimal TEXT.
package store
