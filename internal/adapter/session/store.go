package session

import (
	"database/sql"
	"fmt"

	"github.com/masontrang-dev/solar-charger/internal/core/domain"
	"github.com/masontrang-dev/solar-charger/internal/core/port"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	started_at  INTEGER NOT NULL,
	start_soc   INTEGER NOT NULL,
	start_watts REAL NOT NULL,
	ended_at    INTEGER,
	end_soc     INTEGER,
	energy_wh   REAL NOT NULL DEFAULT 0,
	samples     INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS session_samples (
	session_id       TEXT NOT NULL REFERENCES sessions(id),
	at               INTEGER NOT NULL,
	production_watts REAL NOT NULL,
	charge_watts     REAL NOT NULL,
	soc              INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_samples_session ON session_samples(session_id);
`

// SQLiteStore persists charging sessions and their energy accounting in a
// local SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// the control loop is the only writer
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session schema: %w", err)
	}
	return &SQLiteStore{
		db:     db,
		logger: logger.With(zap.String("store", "sessions")),
	}, nil
}

func (s *SQLiteStore) StartSession(start domain.SessionStart) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, started_at, start_soc, start_watts) VALUES (?, ?, ?, ?)`,
		id, start.StartedAt.Unix(), start.StartSOC, start.ProductionWatts)
	if err != nil {
		return "", err
	}
	s.logger.Debug("session started", zap.String("id", id), zap.Int("soc", start.StartSOC))
	return id, nil
}

func (s *SQLiteStore) AddSample(id string, sample domain.SessionSample) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO session_samples (session_id, at, production_watts, charge_watts, soc) VALUES (?, ?, ?, ?, ?)`,
		id, sample.At.Unix(), sample.ProductionWatts, sample.ChargeWatts, sample.SOC)
	if err != nil {
		return err
	}
	energyWh := sample.ChargeWatts * sample.Interval.Hours()
	_, err = tx.Exec(
		`UPDATE sessions SET energy_wh = energy_wh + ?, samples = samples + 1 WHERE id = ?`,
		energyWh, id)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) EndSession(id string, end domain.SessionEnd) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET ended_at = ?, end_soc = ? WHERE id = ? AND ended_at IS NULL`,
		end.EndedAt.Unix(), end.EndSOC, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.logger.Warn("end for unknown or closed session", zap.String("id", id))
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// NoopStore discards all session records. Used when no sessions path is
// configured.
type NoopStore struct{}

func (NoopStore) StartSession(domain.SessionStart) (string, error) { return uuid.NewString(), nil }
func (NoopStore) AddSample(string, domain.SessionSample) error     { return nil }
func (NoopStore) EndSession(string, domain.SessionEnd) error       { return nil }
func (NoopStore) Close() error                                     { return nil }

var (
	_ port.SessionStore = (*SQLiteStore)(nil)
	_ port.SessionStore = NoopStore{}
)
