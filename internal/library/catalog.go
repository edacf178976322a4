// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package library

import (
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/openusbtrace/usbtrace/pkg/log"
)

// Entry is one row of the capture catalog: everything `captures list`
// needs without opening the underlying capture file.
type Entry struct {
	ID          int64
	Path        string
	Serial      string
	Description string
	Speed       string
	StartedAt   time.Time
	PacketCount int64
	ByteCount   int64
}

var columns = []string{"id", "path", "serial", "description", "speed", "started_at", "packet_count", "byte_count"}

// Record inserts (or, if path already exists, replaces) a catalog
// entry, e.g. after a headless capture finishes writing its file.
func (c *Catalog) Record(e Entry) (int64, error) {
	res, err := sq.Insert("capture").Options("OR REPLACE").
		Columns("path", "serial", "description", "speed", "started_at", "packet_count", "byte_count").
		Values(e.Path, e.Serial, e.Description, e.Speed, e.StartedAt.Unix(), e.PacketCount, e.ByteCount).
		RunWith(c.stmtCache).Exec()
	if err != nil {
		log.Errorf("library: record %s: %v", e.Path, err)
		return 0, err
	}
	return res.LastInsertId()
}

// Query lists catalog entries, optionally filtered by serial and/or a
// minimum start time (`captures list --serial S --since T`).
type Query struct {
	Serial string
	Since  time.Time
}

// List returns matching entries, most recent first.
func (c *Catalog) List(q Query) ([]Entry, error) {
	sel := sq.Select(columns...).From("capture").OrderBy("started_at DESC")
	if q.Serial != "" {
		sel = sel.Where(sq.Eq{"serial": q.Serial})
	}
	if !q.Since.IsZero() {
		sel = sel.Where(sq.GtOrEq{"started_at": q.Since.Unix()})
	}

	rows, err := sel.RunWith(c.stmtCache).Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var startedAt int64
		if err := rows.Scan(&e.ID, &e.Path, &e.Serial, &e.Description, &e.Speed, &startedAt, &e.PacketCount, &e.ByteCount); err != nil {
			return nil, err
		}
		e.StartedAt = time.Unix(startedAt, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete removes a catalog entry by id, used by the periodic
// maintenance job to drop entries whose backing file is gone.
func (c *Catalog) Delete(id int64) error {
	_, err := sq.Delete("capture").Where(sq.Eq{"id": id}).RunWith(c.stmtCache).Exec()
	return err
}

// FindByPath looks up a single entry by its stored path, used by
// `captures open <path>` to recover cataloged metadata before
// re-reading the file itself.
func (c *Catalog) FindByPath(path string) (*Entry, error) {
	row := sq.Select(columns...).From("capture").
		Where(sq.Eq{"path": path}).
		RunWith(c.stmtCache).QueryRow()

	var e Entry
	var startedAt int64
	if err := row.Scan(&e.ID, &e.Path, &e.Serial, &e.Description, &e.Speed, &startedAt, &e.PacketCount, &e.ByteCount); err != nil {
		return nil, err
	}
	e.StartedAt = time.Unix(startedAt, 0).UTC()
	return &e, nil
}
