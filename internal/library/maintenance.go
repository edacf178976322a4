// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package library

import (
	"os"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/openusbtrace/usbtrace/pkg/log"
)

// Prune drops catalog entries whose backing capture file is no longer
// present on disk, e.g. after a capture was removed by hand.
func (c *Catalog) Prune() error {
	entries, err := c.List(Query{})
	if err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := os.Stat(e.Path); os.IsNotExist(err) {
			if err := c.Delete(e.ID); err != nil {
				log.Warnf("library: prune %s: %v", e.Path, err)
				continue
			}
			log.Infof("library: pruned stale entry %s", e.Path)
		}
	}
	return nil
}

// Maintenance runs Prune on a schedule, the way a long-lived
// `usbtrace captures open` or `usbtrace capture` server keeps its
// catalog free of entries for files deleted out from under it.
type Maintenance struct {
	scheduler gocron.Scheduler
}

// StartMaintenance schedules periodic pruning of cat and starts the
// scheduler. Close stops it.
func StartMaintenance(cat *Catalog, interval time.Duration) (*Maintenance, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if err := cat.Prune(); err != nil {
				log.Warnf("library: maintenance prune: %v", err)
			}
		}),
	)
	if err != nil {
		return nil, err
	}
	s.Start()
	return &Maintenance{scheduler: s}, nil
}

// Close stops the maintenance scheduler.
func (m *Maintenance) Close() error {
	return m.scheduler.Shutdown()
}
