// Package stores provides the magebox run journal: a SQLite database, kept
// in WAL mode and migrated with embedded migrations, recording every
// provisioning or lifecycle run and the operations it supervised.
package stores
