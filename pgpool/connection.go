package pgpool

import (
	"database/sql"

	"github.com/google/uuid"
)

// Connection is one live libpq session, owned exclusively by whichever
// caller currently has it checked out of the Pool — never shared
// concurrently.
//
// Each Connection wraps a *sql.DB pinned to a single open connection
// (SetMaxOpenConns(1)) rather than delegating pooling to database/sql
// itself. That gives Pool full manual control over checkout, checkin and
// reconnect-on-error semantics instead of fighting database/sql's own
// internal pool.
type Connection struct {
	ID uuid.UUID
	DB *sql.DB

	dsn string
}

// Open dials dsn and pins the resulting *sql.DB to exactly one physical
// connection. Wire implementations call this to turn a parsed connection
// source into a live Connection.
func Open(dsn string) (*Connection, error) {
	return newConnection(dsn)
}

// newConnection opens dsn and pins the resulting *sql.DB to exactly one
// physical connection.
func newConnection(dsn string) (*Connection, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Connection{
		ID:  uuid.New(),
		DB:  db,
		dsn: dsn,
	}, nil
}

// Close releases the underlying socket. Callers must not use the
// Connection afterwards.
func (c *Connection) Close() error {
	return c.DB.Close()
}
