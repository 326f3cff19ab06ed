package db

import "github.com/jmoiron/sqlx"

// Pool pairs the warehouse writer and reader connections.
//
// On SQLite the writer is a single connection so every catalog transaction is
// serialized, while readers use WAL snapshots and never block it. On PostgreSQL
// both sides share one *sqlx.DB and the optimistic version checks do the work.
type Pool struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// NewPool creates a Pool from separate writer and reader connections.
func NewPool(writer, reader *sqlx.DB) *Pool {
	return &Pool{writer: writer, reader: reader}
}

// Writer returns the connection used for transactions and writes.
func (p *Pool) Writer() *sqlx.DB { return p.writer }

// Reader returns the connection used for snapshots and API reads.
func (p *Pool) Reader() *sqlx.DB { return p.reader }

// Driver returns the sqlx driver name shared by both sides.
func (p *Pool) Driver() string { return p.writer.DriverName() }

// Close closes both the writer and reader pools.
func (p *Pool) Close() error {
	wErr := p.writer.Close()
	if p.reader != p.writer {
		if rErr := p.reader.Close(); rErr != nil && wErr == nil {
			return rErr
		}
	}
	return wErr
}
