package confusion

import (
	"embed"
	"errors"
	"fmt"
	"os"

	"github.com/banshee-data/eventsweep/internal/db"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Save writes the record to a sqlite file at path, replacing any existing
// file.
func (c *ConfigInfo) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing old confusion record %s: %w", path, err)
	}
	d, err := db.Open(path)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.MigrateUp(migrations, "migrations"); err != nil {
		return fmt.Errorf("migrating confusion record %s: %w", path, err)
	}

	tx, err := d.Begin()
	if err != nil {
		return fmt.Errorf("begin confusion tx: %w", err)
	}
	defer tx.Rollback()

	for i, edge := range c.EnergyRange {
		if _, err := tx.Exec(`INSERT INTO energy_bins (bin, lower_edge) VALUES (?, ?)`, i, edge); err != nil {
			return fmt.Errorf("writing energy bin %d: %w", i, err)
		}
		for j, e := range c.Bins[i] {
			if _, err := tx.Exec(`INSERT INTO confusion_entries (bin, ordinal, true_pdg, test_pdg, id_rate)
				VALUES (?, ?, ?, ?, ?)`, i, j, e.TruePDG, e.TestPDG, e.IDRate); err != nil {
				return fmt.Errorf("writing entry %d of bin %d: %w", j, i, err)
			}
		}
	}
	return tx.Commit()
}

// Load reads a record saved by Save.
func Load(path string) (*ConfigInfo, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("opening confusion record: %w", err)
	}
	d, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	rows, err := d.Query(`SELECT lower_edge FROM energy_bins ORDER BY bin`)
	if err != nil {
		return nil, fmt.Errorf("reading energy bins of %s: %w", path, err)
	}
	c := &ConfigInfo{}
	for rows.Next() {
		var edge float64
		if err := rows.Scan(&edge); err != nil {
			rows.Close()
			return nil, err
		}
		c.EnergyRange = append(c.EnergyRange, edge)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	c.Bins = make([][]Entry, len(c.EnergyRange))

	rows, err = d.Query(`SELECT bin, true_pdg, test_pdg, id_rate FROM confusion_entries ORDER BY bin, ordinal`)
	if err != nil {
		return nil, fmt.Errorf("reading confusion entries of %s: %w", path, err)
	}
	defer rows.Close()
	for rows.Next() {
		var bin int
		var e Entry
		if err := rows.Scan(&bin, &e.TruePDG, &e.TestPDG, &e.IDRate); err != nil {
			return nil, err
		}
		if bin < 0 || bin >= len(c.Bins) {
			return nil, fmt.Errorf("confusion record %s: entry for unknown bin %d", path, bin)
		}
		c.Bins[bin] = append(c.Bins[bin], e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("confusion record %s: %w", path, err)
	}
	return c, nil
}
