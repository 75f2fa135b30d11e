package output

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/banshee-data/eventsweep/internal/db"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	// ErrClosed is returned when writing to a closed destination.
	ErrClosed = errors.New("destination closed")
	// ErrNotFound is returned by the Store readers for an unknown channel.
	ErrNotFound = errors.New("not found")
)

// Store is a sqlite-backed Destination. One file holds the results of one
// pipeline instance.
type Store struct {
	path     string
	db       *db.DB
	readOnly bool
}

// Create makes a fresh result store at path, replacing any existing file.
func Create(path string) (*Store, error) {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("removing old output %s: %w", p, err)
		}
	}
	d, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := d.MigrateUp(migrations, "migrations"); err != nil {
		d.Close()
		return nil, fmt.Errorf("migrating output %s: %w", path, err)
	}
	return &Store{path: path, db: d}, nil
}

// Open opens an existing result store for reading.
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("opening output %s: %w", path, err)
	}
	d, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	version, dirty, err := d.MigrateVersion(migrations, "migrations")
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("reading schema version of %s: %w", path, err)
	}
	if version == 0 || dirty {
		d.Close()
		return nil, fmt.Errorf("%s is not a result store (version %d, dirty %v)", path, version, dirty)
	}
	return &Store{path: path, db: d, readOnly: true}, nil
}

func (s *Store) Name() string { return s.path }

func (s *Store) writable() error {
	if s.db == nil {
		return fmt.Errorf("%s: %w", s.path, ErrClosed)
	}
	if s.readOnly {
		return fmt.Errorf("%s: opened read-only", s.path)
	}
	return nil
}

// WriteMetadata upserts the given keys.
func (s *Store) WriteMetadata(md map[string]string) error {
	if err := s.writable(); err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin metadata tx: %w", err)
	}
	defer tx.Rollback()

	for k, v := range md {
		if _, err := tx.Exec(`INSERT INTO metadata (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
			return fmt.Errorf("writing metadata %q: %w", k, err)
		}
	}
	return tx.Commit()
}

// WriteSpectrum replaces the spectrum of s.Channel.
func (s *Store) WriteSpectrum(sp Spectrum) error {
	if err := s.writable(); err != nil {
		return err
	}
	if err := sp.Validate(); err != nil {
		return err
	}
	edges, err := json.Marshal(sp.Edges)
	if err != nil {
		return err
	}
	mean, err := json.Marshal(sp.Mean)
	if err != nil {
		return err
	}
	stddev, err := json.Marshal(sp.StdDev)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin spectrum tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM spectra WHERE channel = ?`, sp.Channel); err != nil {
		return fmt.Errorf("clearing spectrum %s: %w", sp.Channel, err)
	}
	if _, err := tx.Exec(`INSERT INTO spectra (channel, edges_json, mean_json, stddev_json, n_trials)
		VALUES (?, ?, ?, ?, ?)`, sp.Channel, string(edges), string(mean), string(stddev), len(sp.Trials)); err != nil {
		return fmt.Errorf("writing spectrum %s: %w", sp.Channel, err)
	}
	for t, trial := range sp.Trials {
		contents, err := json.Marshal(trial)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO spectrum_trials (channel, trial, contents_json) VALUES (?, ?, ?)`,
			sp.Channel, t, string(contents)); err != nil {
			return fmt.Errorf("writing trial %d of %s: %w", t, sp.Channel, err)
		}
	}
	n := sp.NBins()
	for i, v := range sp.Covariance {
		if _, err := tx.Exec(`INSERT INTO covariance (channel, row_bin, col_bin, value) VALUES (?, ?, ?, ?)`,
			sp.Channel, i/n, i%n, v); err != nil {
			return fmt.Errorf("writing covariance of %s: %w", sp.Channel, err)
		}
	}
	return tx.Commit()
}

// WriteEfficiency replaces the efficiency of e.Channel.
func (s *Store) WriteEfficiency(e Efficiency) error {
	if err := s.writable(); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT INTO efficiency (channel, selected, total, selected_count, total_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(channel) DO UPDATE SET
			selected = excluded.selected,
			total = excluded.total,
			selected_count = excluded.selected_count,
			total_count = excluded.total_count`,
		e.Channel, e.Selected, e.Total, e.SelectedCount, e.TotalCount)
	if err != nil {
		return fmt.Errorf("writing efficiency %s: %w", e.Channel, err)
	}
	return nil
}

// Close releases the database. Closing twice is a no-op.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Metadata returns every metadata key.
func (s *Store) Metadata() (map[string]string, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.Query(`SELECT key, value FROM metadata`)
	if err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Spectrum reads back the spectrum of channel including trials and covariance.
func (s *Store) Spectrum(channel string) (Spectrum, error) {
	if s.db == nil {
		return Spectrum{}, ErrClosed
	}
	sp := Spectrum{Channel: channel}
	var edges, mean, stddev string
	var nTrials int
	err := s.db.QueryRow(`SELECT edges_json, mean_json, stddev_json, n_trials FROM spectra WHERE channel = ?`,
		channel).Scan(&edges, &mean, &stddev, &nTrials)
	if errors.Is(err, sql.ErrNoRows) {
		return sp, fmt.Errorf("spectrum %s: %w", channel, ErrNotFound)
	}
	if err != nil {
		return sp, fmt.Errorf("reading spectrum %s: %w", channel, err)
	}
	for _, f := range []struct {
		src string
		dst *[]float64
	}{{edges, &sp.Edges}, {mean, &sp.Mean}, {stddev, &sp.StdDev}} {
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return sp, fmt.Errorf("decoding spectrum %s: %w", channel, err)
		}
	}

	rows, err := s.db.Query(`SELECT contents_json FROM spectrum_trials WHERE channel = ? ORDER BY trial`, channel)
	if err != nil {
		return sp, fmt.Errorf("reading trials of %s: %w", channel, err)
	}
	defer rows.Close()
	sp.Trials = make([][]float64, 0, nTrials)
	for rows.Next() {
		var contents string
		if err := rows.Scan(&contents); err != nil {
			return sp, err
		}
		var trial []float64
		if err := json.Unmarshal([]byte(contents), &trial); err != nil {
			return sp, fmt.Errorf("decoding trial of %s: %w", channel, err)
		}
		sp.Trials = append(sp.Trials, trial)
	}
	if err := rows.Err(); err != nil {
		return sp, err
	}

	n := sp.NBins()
	covRows, err := s.db.Query(`SELECT row_bin, col_bin, value FROM covariance WHERE channel = ?`, channel)
	if err != nil {
		return sp, fmt.Errorf("reading covariance of %s: %w", channel, err)
	}
	defer covRows.Close()
	for covRows.Next() {
		var r, c int
		var v float64
		if err := covRows.Scan(&r, &c, &v); err != nil {
			return sp, err
		}
		if sp.Covariance == nil {
			sp.Covariance = make([]float64, n*n)
		}
		if r >= n || c >= n {
			return sp, fmt.Errorf("covariance of %s: bin (%d,%d) out of range", channel, r, c)
		}
		sp.Covariance[r*n+c] = v
	}
	return sp, covRows.Err()
}

// Efficiency reads back the efficiency of channel.
func (s *Store) Efficiency(channel string) (Efficiency, error) {
	if s.db == nil {
		return Efficiency{}, ErrClosed
	}
	e := Efficiency{Channel: channel}
	err := s.db.QueryRow(`SELECT selected, total, selected_count, total_count FROM efficiency WHERE channel = ?`,
		channel).Scan(&e.Selected, &e.Total, &e.SelectedCount, &e.TotalCount)
	if errors.Is(err, sql.ErrNoRows) {
		return e, fmt.Errorf("efficiency %s: %w", channel, ErrNotFound)
	}
	if err != nil {
		return e, fmt.Errorf("reading efficiency %s: %w", channel, err)
	}
	return e, nil
}
