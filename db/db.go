// Package db keeps the activity ledger: every inbound activity is recorded
// by id so a replayed delivery is recognised and skipped.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/hutgate/domain"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the database struct.
type DB struct {
	db *sql.DB
}

const maxBusyRetries = 10

// Open opens the SQLite database at path and runs the migrations.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	// Try to enable WAL2 mode, fall back to WAL if not supported
	var journalMode string
	err = db.QueryRow("PRAGMA journal_mode=WAL2").Scan(&journalMode)
	if err != nil || journalMode == "delete" {
		err = db.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode)
		if err != nil {
			log.Warnf("Failed to enable WAL mode: %v", err)
		} else {
			log.Debugf("Database journal mode: %s (WAL2 not supported, using WAL)", journalMode)
		}
	} else {
		log.Debugf("Database journal mode: %s", journalMode)
	}

	db.Exec("PRAGMA synchronous = NORMAL")
	db.Exec("PRAGMA temp_store = MEMORY")
	db.Exec("PRAGMA busy_timeout = 5000")

	d := &DB{db: db}
	if err := d.RunMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}

	log.Infof("Activity ledger opened at %s", path)
	return d, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

const (
	sqlInsertActivity = `INSERT INTO activities(id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, local, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(activity_uri) DO NOTHING`
	sqlSelectProcessed     = `SELECT processed FROM activities WHERE activity_uri = ?`
	sqlMarkProcessed       = `UPDATE activities SET processed = 1 WHERE activity_uri = ?`
	sqlSelectActivityByURI = `SELECT id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, local, created_at FROM activities WHERE activity_uri = ?`
	sqlSelectRecent        = `SELECT id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, local, created_at FROM activities ORDER BY created_at DESC LIMIT ?`
	sqlDeleteProcessed     = `DELETE FROM activities WHERE processed = 1 AND created_at < ?`
)

// RecordActivity stores rec unless its ActivityURI is already known. It
// reports whether the known activity was processed to completion.
func (db *DB) RecordActivity(ctx context.Context, rec *domain.ActivityRecord) (processed bool, err error) {
	err = db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlInsertActivity,
			rec.Id.String(),
			rec.ActivityURI,
			rec.ActivityType,
			rec.ActorURI,
			rec.ObjectURI,
			rec.RawJSON,
			rec.Processed,
			rec.Local,
			rec.CreatedAt,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil || n > 0 {
			processed = false
			return err
		}
		return tx.QueryRowContext(ctx, sqlSelectProcessed, rec.ActivityURI).Scan(&processed)
	})
	return processed, err
}

// MarkProcessed flags an activity as fully handled.
func (db *DB) MarkProcessed(ctx context.Context, activityURI string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlMarkProcessed, activityURI)
		return err
	})
}

// ReadActivityByURI returns the recorded activity, or nil when unknown.
func (db *DB) ReadActivityByURI(ctx context.Context, uri string) (*domain.ActivityRecord, error) {
	rec, err := scanActivity(db.db.QueryRowContext(ctx, sqlSelectActivityByURI, uri))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// ReadRecentActivities returns up to limit activities, newest first.
func (db *DB) ReadRecentActivities(ctx context.Context, limit int) ([]domain.ActivityRecord, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectRecent, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activities []domain.ActivityRecord
	for rows.Next() {
		rec, err := scanActivity(rows)
		if err != nil {
			return activities, err
		}
		activities = append(activities, *rec)
	}
	return activities, rows.Err()
}

// PruneProcessed deletes processed activities recorded before cutoff and
// returns how many were removed.
func (db *DB) PruneProcessed(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlDeleteProcessed, cutoff)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanActivity(row scanner) (*domain.ActivityRecord, error) {
	var (
		rec       domain.ActivityRecord
		idStr     string
		objectURI sql.NullString
	)
	err := row.Scan(
		&idStr,
		&rec.ActivityURI,
		&rec.ActivityType,
		&rec.ActorURI,
		&objectURI,
		&rec.RawJSON,
		&rec.Processed,
		&rec.Local,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Id, _ = uuid.Parse(idStr)
	rec.ObjectURI = objectURI.String
	return &rec, nil
}

// wrapTransaction runs f within a transaction, retrying while the database
// is busy.
func (db *DB) wrapTransaction(ctx context.Context, f func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	for attempt := 0; ; attempt++ {
		tx, err := db.db.BeginTx(ctx, nil)
		if err != nil {
			log.Errorf("error starting transaction: %s", err)
			return err
		}

		err = f(tx)
		if err == nil {
			err = tx.Commit()
			if err == nil {
				return nil
			}
		} else {
			_ = tx.Rollback()
		}

		if isBusy(err) && attempt < maxBusyRetries {
			time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
			continue
		}
		log.Errorf("error in transaction: %s", err)
		return err
	}
}

func isBusy(err error) bool {
	var serr *sqlite.Error
	return errors.As(err, &serr) && serr.Code() == sqlitelib.SQLITE_BUSY
}
