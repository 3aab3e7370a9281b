package infra

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/hdaguard/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const (
	stateDBName = "state.db"

	// PassHistoryLimit is how many pass summaries are kept.
	PassHistoryLimit = 500
)

// EncryptedStateStore implements domain.StateStore using a SQLCipher
// encrypted SQLite database. It also records every pass it observes.
type EncryptedStateStore struct {
	db             *sql.DB
	processManager domain.ProcessManager
	logger         *zap.Logger
	now            func() time.Time
}

// NewEncryptedStateStore opens (or creates) the state database with a raw
// SQLCipher key.
func NewEncryptedStateStore(dataDir string, key StateKey, pm domain.ProcessManager, logger *zap.Logger) (*EncryptedStateStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, stateDBName)
	dsn := fmt.Sprintf("%s?_pragma_key=%s&_pragma_cipher_page_size=4096&_busy_timeout=5000", dbPath, key.Pragma())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	// Wrong key shows up here, not at Open.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	s := &EncryptedStateStore{
		db:             db,
		processManager: pm,
		logger:         logger,
		now:            time.Now,
	}

	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

// OpenStateStore opens the store in dataDir, generating its key on first
// use. The state is advisory, so a database that cannot be opened with the
// current key is moved aside and recreated.
func OpenStateStore(dataDir string, pm domain.ProcessManager, logger *zap.Logger) (*EncryptedStateStore, error) {
	key, created, err := loadStateKey(dataDir)
	if err != nil {
		return nil, err
	}
	if created {
		logger.Info("generated state key", zap.String("path", stateKeyPath(dataDir)))
	}

	store, err := NewEncryptedStateStore(dataDir, key, pm, logger)
	if err == nil {
		return store, nil
	}

	dbPath := filepath.Join(dataDir, stateDBName)
	if _, statErr := os.Stat(dbPath); statErr != nil {
		return nil, err
	}
	aside := fmt.Sprintf("%s.unreadable-%d", dbPath, time.Now().Unix())
	if renameErr := os.Rename(dbPath, aside); renameErr != nil {
		return nil, fmt.Errorf("%w (and failed to move it aside: %v)", err, renameErr)
	}
	logger.Warn("state database unreadable, starting a new one",
		zap.String("moved_to", aside),
		zap.Error(err))
	return NewEncryptedStateStore(dataDir, key, pm, logger)
}

func (s *EncryptedStateStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS watchdog_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		pid INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		last_heartbeat INTEGER NOT NULL,
		subscriber_state TEXT NOT NULL DEFAULT '',
		subscriber_error TEXT NOT NULL DEFAULT '',
		app_version TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS pass_history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		pass_id TEXT NOT NULL,
		trigger TEXT NOT NULL,
		forced INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		disabled INTEGER NOT NULL,
		already_compliant INTEGER NOT NULL,
		errored INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- watchdog identity ---

// RegisterWatchdog saves the running watchdog, replacing any previous one.
func (s *EncryptedStateStore) RegisterWatchdog(rec domain.WatchdogRecord) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO watchdog_state (id, pid, started_at, last_heartbeat, subscriber_state, subscriber_error, app_version)
		VALUES (1, ?, ?, ?, ?, ?, ?)`,
		rec.PID, rec.StartedAt.UnixMilli(), rec.LastHeartbeat.UnixMilli(), rec.SubscriberState, rec.SubscriberError, rec.AppVersion,
	)
	return err
}

// UpdateHeartbeat updates the timestamp and the subscriber's state and last
// registration error for status reporting.
func (s *EncryptedStateStore) UpdateHeartbeat(subscriberState, subscriberError string) error {
	result, err := s.db.Exec(`
		UPDATE watchdog_state SET last_heartbeat = ?, subscriber_state = ?, subscriber_error = ?
		WHERE id = 1`,
		s.now().UnixMilli(), subscriberState, subscriberError)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.New("watchdog not registered")
	}
	return nil
}

// GetWatchdog returns the registered watchdog, or nil if none.
func (s *EncryptedStateStore) GetWatchdog() (*domain.WatchdogRecord, error) {
	var (
		rec                  domain.WatchdogRecord
		startedAt, heartbeat int64
	)
	err := s.db.QueryRow(`
		SELECT pid, started_at, last_heartbeat, subscriber_state, subscriber_error, app_version
		FROM watchdog_state WHERE id = 1`).
		Scan(&rec.PID, &startedAt, &heartbeat, &rec.SubscriberState, &rec.SubscriberError, &rec.AppVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.StartedAt = time.UnixMilli(startedAt)
	rec.LastHeartbeat = time.UnixMilli(heartbeat)
	return &rec, nil
}

// IsWatchdogAlive checks if the registered watchdog PID is running.
func (s *EncryptedStateStore) IsWatchdogAlive() (bool, error) {
	rec, err := s.GetWatchdog()
	if err != nil {
		return false, err
	}
	if rec == nil || rec.PID == 0 {
		return false, nil // Not registered = not alive
	}
	return s.processManager.IsRunning(rec.PID), nil
}

// ClearWatchdog removes the watchdog record (after uninstall).
func (s *EncryptedStateStore) ClearWatchdog() error {
	_, err := s.db.Exec(`DELETE FROM watchdog_state`)
	return err
}

// --- pass history ---

// RecordPass appends a summary and trims history to PassHistoryLimit rows.
func (s *EncryptedStateStore) RecordPass(summary *domain.PassSummary) error {
	var errText string
	if summary.Err != nil {
		errText = summary.Err.Error()
	}
	forced := 0
	if summary.Forced {
		forced = 1
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO pass_history (pass_id, trigger, forced, started_at, duration_ms, disabled, already_compliant, errored, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.ID, string(summary.Trigger), forced, summary.StartedAt.UnixMilli(), summary.Duration.Milliseconds(),
		summary.Disabled, summary.AlreadyCompliant, summary.Errored, errText,
	)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		DELETE FROM pass_history WHERE seq NOT IN (
			SELECT seq FROM pass_history ORDER BY seq DESC LIMIT ?
		)`, PassHistoryLimit)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// RecentPasses returns up to limit passes, newest first.
func (s *EncryptedStateStore) RecentPasses(limit int) ([]domain.PassRecord, error) {
	rows, err := s.db.Query(`
		SELECT pass_id, trigger, forced, started_at, duration_ms, disabled, already_compliant, errored, error
		FROM pass_history ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.PassRecord
	for rows.Next() {
		var (
			rec       domain.PassRecord
			trigger   string
			forced    int
			startedAt int64
		)
		if err := rows.Scan(&rec.ID, &trigger, &forced, &startedAt, &rec.DurationMs,
			&rec.Disabled, &rec.AlreadyCompliant, &rec.Errored, &rec.Error); err != nil {
			return nil, err
		}
		rec.Trigger = domain.PassTrigger(trigger)
		rec.Forced = forced == 1
		rec.StartedAt = time.UnixMilli(startedAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ObservePass records the summary; failures are logged, never returned.
func (s *EncryptedStateStore) ObservePass(summary *domain.PassSummary) {
	if err := s.RecordPass(summary); err != nil {
		s.logger.Warn("failed to record pass history",
			zap.String("pass_id", summary.ID),
			zap.Error(err))
	}
}

// Close releases the database connection.
func (s *EncryptedStateStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ensure EncryptedStateStore implements both interfaces.
var _ domain.StateStore = (*EncryptedStateStore)(nil)
var _ domain.PassObserver = (*EncryptedStateStore)(nil)
