// Package memdb is a small in-memory object store that reports every change
// to a replog.Replication. It exists to drive the changeset encoder the way
// a real storage engine does: schema changes, objects keyed by primary key
// or global key, embedded objects, and list, set and dictionary properties.
//
// Handles (*Table, *Obj) obtained before a rolled back transaction must be
// looked up again.
package memdb

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/andreyvit/replog"
)

var (
	ErrWriteInProgress     = fmt.Errorf("memdb: a write transaction is already active")
	ErrTxDone              = fmt.Errorf("memdb: transaction has already been committed or rolled back")
	ErrDuplicateName       = fmt.Errorf("memdb: duplicate name")
	ErrDuplicatePrimaryKey = fmt.Errorf("memdb: duplicate primary key")
	ErrNotFound            = fmt.Errorf("memdb: not found")
	ErrTypeMismatch        = fmt.Errorf("memdb: type mismatch")
	ErrInvalidSchema       = fmt.Errorf("memdb: invalid schema change")
	ErrInvalidOperation    = fmt.Errorf("memdb: invalid operation")
)

type Options struct {
	Context context.Context
	Logger  *slog.Logger

	// History and Stream are passed to the replication.
	History replog.History
	Stream  replog.Stream

	// Version is the version of the (empty) initial state.
	Version replog.Version
}

// DB is a set of tables. It is not safe for concurrent use.
type DB struct {
	ctx     context.Context
	logger  *slog.Logger
	repl    *replog.Replication
	version replog.Version
	tables  []*Table
	tx      *Tx
}

var _ replog.Group = (*DB)(nil)

func New(o Options) *DB {
	if o.Context == nil {
		o.Context = context.Background()
	}
	var logger replog.Logger
	if o.Logger != nil {
		logger = o.Logger
	}
	return &DB{
		ctx:     o.Context,
		logger:  o.Logger,
		version: o.Version,
		repl: replog.New(replog.Options{
			Context: o.Context,
			Logger:  logger,
			History: o.History,
			Stream:  o.Stream,
		}),
	}
}

func (db *DB) Replication() *replog.Replication {
	return db.repl
}

// Version is the version produced by the last commit.
func (db *DB) Version() replog.Version {
	return db.version
}

// Table implements replog.Group.
func (db *DB) Table(key replog.TableKey) replog.Table {
	if t := db.table(key); t != nil {
		return t
	}
	return nil
}

func (db *DB) table(key replog.TableKey) *Table {
	if uint64(key) < uint64(len(db.tables)) {
		return db.tables[key]
	}
	return nil
}

// TableNamed finds a table by class name.
func (db *DB) TableNamed(class string) *Table {
	for _, t := range db.tables {
		if t != nil && t.ClassName() == class {
			return t
		}
	}
	return nil
}

func (db *DB) Tables() []*Table {
	var result []*Table
	for _, t := range db.tables {
		if t != nil {
			result = append(result, t)
		}
	}
	return result
}

// Commit is the outcome of a committed write transaction.
type Commit struct {
	Version   replog.Version
	Changeset []byte
}

// BeginWrite starts a write transaction. Only one can be active at a time.
func (db *DB) BeginWrite() (*Tx, error) {
	if db.tx != nil {
		return nil, ErrWriteInProgress
	}
	tx := &Tx{
		db:       db,
		repl:     db.repl,
		snapshot: db.cloneTables(),
	}
	db.tx = tx
	db.repl.InitiateTransact(db, db.version, false)
	db.repl.UnselectAll()
	return tx, nil
}

// Write runs fn in a write transaction and commits it, or rolls it back if
// fn fails.
func (db *DB) Write(fn func(tx *Tx) error) (Commit, error) {
	tx, err := db.BeginWrite()
	if err != nil {
		return Commit{}, err
	}
	defer tx.Rollback()
	err = fn(tx)
	if err != nil {
		return Commit{}, err
	}
	return tx.Commit()
}

func (db *DB) cloneTables() []*Table {
	result := make([]*Table, len(db.tables))
	for i, t := range db.tables {
		if t != nil {
			result[i] = t.clone()
		}
	}
	return result
}

// Tx is a write transaction.
type Tx struct {
	db       *DB
	repl     *replog.Replication
	snapshot []*Table
	err      error
	done     bool
}

func (tx *Tx) DB() *DB {
	return tx.db
}

// Commit hands the changeset to the history and makes the changes visible.
// If any mutation failed to be recorded, the transaction is rolled back
// instead and the recording error is returned.
func (tx *Tx) Commit() (Commit, error) {
	if tx.done {
		return Commit{}, ErrTxDone
	}
	if tx.err != nil {
		err := tx.err
		tx.Rollback()
		return Commit{}, err
	}
	v, err := tx.repl.PrepareCommit(tx.db.version)
	if err != nil {
		tx.Rollback()
		return Commit{}, err
	}
	c := Commit{
		Version:   v,
		Changeset: bytes.Clone(tx.repl.Changeset()),
	}
	tx.repl.FinalizeCommit()
	tx.db.version = v
	tx.finish()

	if tx.db.logger != nil {
		tx.db.logger.LogAttrs(tx.db.ctx, slog.LevelDebug, "memdb: committed", slog.Uint64("version", uint64(v)), slog.Int("size", len(c.Changeset)))
	}
	return c, nil
}

// Rollback discards the transaction. It is a no-op after Commit.
func (tx *Tx) Rollback() {
	if tx.done {
		return
	}
	tx.repl.AbortTransact()
	tx.db.tables = tx.snapshot
	tx.finish()
}

func (tx *Tx) finish() {
	tx.done = true
	tx.snapshot = nil
	tx.db.tx = nil
}

func (tx *Tx) check() error {
	if tx.done {
		return ErrTxDone
	}
	return tx.err
}

// record remembers the first recording failure; the transaction can only
// be rolled back after one.
func (tx *Tx) record(err error) error {
	if err != nil && tx.err == nil {
		tx.err = err
	}
	return err
}
