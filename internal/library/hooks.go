// Copyright (c) 2026 The usbtrace Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package library

import (
	"context"
	"time"

	"github.com/openusbtrace/usbtrace/pkg/log"
)

// queryTimeKey is the context key the Before/After hook pair uses to
// pass a query's start time through database/sql's ctx plumbing.
type queryTimeKey struct{}

// hooks satisfies sqlhooks.Hooks, logging every query the catalog
// runs and how long it took.
type hooks struct{}

func (hooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	log.Debugf("library: query %s %q", query, args)
	return context.WithValue(ctx, queryTimeKey{}, time.Now()), nil
}

func (hooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	if begin, ok := ctx.Value(queryTimeKey{}).(time.Time); ok {
		log.Debugf("library: query took %s", time.Since(begin))
	}
	return ctx, nil
}
