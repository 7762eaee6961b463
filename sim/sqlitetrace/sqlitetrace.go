// Package sqlitetrace stores bus transactions handled by a simulated device
// in a SQLite database for offline inspection.
package sqlitetrace

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"

	"github.com/soypat/adin2111/regs"
	"github.com/soypat/adin2111/sim"
	"github.com/soypat/adin2111/wire"
)

const defaultBatchSize = 1024

const schema = `CREATE TABLE IF NOT EXISTS trace (
	session TEXT NOT NULL,
	seq INTEGER NOT NULL,
	time_ns INTEGER NOT NULL,
	dir TEXT NOT NULL,
	addr INTEGER NOT NULL,
	value INTEGER NOT NULL,
	len INTEGER NOT NULL,
	stream INTEGER NOT NULL,
	in_reset INTEGER NOT NULL
)`

const insert = `INSERT INTO trace (session, seq, time_ns, dir, addr, value, len, stream, in_reset)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Writer implements sim.Tracer. Records are buffered and written in batches,
// each batch in a single database transaction. Buffered records are flushed
// on Close and when the program exits through atexit.
type Writer struct {
	mu        sync.Mutex
	db        *sql.DB
	stmt      *sql.Stmt
	session   string
	path      string
	batchSize int
	pending   []sim.Record
	logger    *slog.Logger
	closed    bool
}

var _ sim.Tracer = (*Writer)(nil)

// Config configures a Writer.
type Config struct {
	// Path of the database file. If empty a unique name is generated.
	Path string
	// BatchSize is the number of records buffered before a flush.
	BatchSize int
	// Logger receives flush errors. May be nil.
	Logger *slog.Logger
}

// Open creates or opens the trace database. Every Writer tags its rows with a
// fresh session identifier so runs can share a database file.
func Open(cfg Config) (*Writer, error) {
	session := xid.New().String()
	path := cfg.Path
	if path == "" {
		path = "adin2111_trace_" + session + ".sqlite3"
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err = db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitetrace: creating schema: %w", err)
	}
	stmt, err := db.Prepare(insert)
	if err != nil {
		db.Close()
		return nil, err
	}
	w := &Writer{
		db:        db,
		stmt:      stmt,
		session:   session,
		path:      path,
		batchSize: cfg.BatchSize,
		logger:    cfg.Logger,
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	atexit.Register(func() { w.Close() })
	return w, nil
}

// Path returns the database file path.
func (w *Writer) Path() string { return w.path }

// Session returns the identifier stored in every row written by w.
func (w *Writer) Session() string { return w.session }

// Trace buffers rec, flushing when the batch is full.
func (w *Writer) Trace(rec sim.Record) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.pending = append(w.pending, rec)
	if len(w.pending) >= w.batchSize {
		if err := w.flush(); err != nil && w.logger != nil {
			w.logger.Error("sqlitetrace:flush", slog.String("err", err.Error()))
		}
	}
}

// Flush writes buffered records to the database.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	return w.flush()
}

func (w *Writer) flush() (err error) {
	if len(w.pending) == 0 {
		return nil
	}
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}
	stmt := tx.Stmt(w.stmt)
	for _, rec := range w.pending {
		_, err = stmt.Exec(w.session, rec.Seq, rec.Time.UnixNano(), rec.Dir.String(),
			int(rec.Addr), rec.Value, rec.Len, rec.Stream, rec.InReset)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlitetrace: inserting seq %d: %w", rec.Seq, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	w.pending = w.pending[:0]
	return nil
}

// Close flushes buffered records and closes the database. Close is idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.flush()
	return errors.Join(err, w.stmt.Close(), w.db.Close())
}

// Load reads back the records of session from the database at path.
// If session is empty records of all sessions are returned in insertion order.
func Load(path, session string) ([]sim.Record, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	query := `SELECT seq, time_ns, dir, addr, value, len, stream, in_reset FROM trace`
	var args []any
	if session != "" {
		query += ` WHERE session = ?`
		args = append(args, session)
	}
	query += ` ORDER BY rowid`
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []sim.Record
	for rows.Next() {
		var (
			rec    sim.Record
			ns     int64
			dir    string
			addr   int
			value  int64
			stream bool
			reset  bool
		)
		err = rows.Scan(&rec.Seq, &ns, &dir, &addr, &value, &rec.Len, &stream, &reset)
		if err != nil {
			return recs, err
		}
		rec.Time = time.Unix(0, ns)
		rec.Addr = regs.Addr(addr)
		rec.Value = uint32(value)
		rec.Stream, rec.InReset = stream, reset
		if dir == wire.Read.String() {
			rec.Dir = wire.Read
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
