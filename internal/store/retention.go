package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// EnforceRetention deletes records for the pair beyond the newest
// MaxPerPair and records older than MaxAge. The two rules are applied
// independently; a failure in one does not skip the other. Runs for the
// same pair are serialized.
func (s *SQLiteStore) EnforceRetention(ctx context.Context, sender, conversation string) (int64, error) {
	unlock := s.locks.lock(sender + "\x00" + conversation)
	defer unlock()

	var removed int64
	var errs []error

	if s.retention.MaxPerPair > 0 {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM messages
			 WHERE sender = ? AND conversation = ? AND seq NOT IN (
				SELECT seq FROM messages WHERE sender = ? AND conversation = ?
				ORDER BY seq DESC LIMIT ?
			 )`,
			sender, conversation, sender, conversation, s.retention.MaxPerPair)
		if err != nil {
			errs = append(errs, fmt.Errorf("count rule: %w", err))
		} else if n, err := res.RowsAffected(); err == nil {
			removed += n
		}
	}

	if s.retention.MaxAge > 0 {
		cutoff := s.clock.Now().Add(-s.retention.MaxAge).UTC().Format(timeLayout)
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM messages WHERE sender = ? AND conversation = ? AND sent_at < ?`,
			sender, conversation, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("age rule: %w", err))
		} else if n, err := res.RowsAffected(); err == nil {
			removed += n
		}
	}

	return removed, errors.Join(errs...)
}

// SweepAll enforces retention for every (sender, conversation) pair that
// still has records, including pairs with no recent appends.
func (s *SQLiteStore) SweepAll(ctx context.Context) (int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT sender, conversation FROM messages`)
	if err != nil {
		return 0, fmt.Errorf("list pairs: %w", err)
	}
	type pair struct{ sender, conversation string }
	var pairs []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.sender, &p.conversation); err != nil {
			rows.Close()
			return 0, err
		}
		pairs = append(pairs, p)
	}
	rows.Close()

	var removed int64
	var errs []error
	for _, p := range pairs {
		n, err := s.EnforceRetention(ctx, p.sender, p.conversation)
		removed += n
		if err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", p.sender, p.conversation, err))
		}
	}
	return removed, errors.Join(errs...)
}

// pairLocks hands out one mutex per key, dropping it when unused.
type pairLocks struct {
	mu    sync.Mutex
	locks map[string]*pairLock
}

type pairLock struct {
	sync.Mutex
	refs int
}

func newPairLocks() *pairLocks {
	return &pairLocks{locks: make(map[string]*pairLock)}
}

func (p *pairLocks) lock(key string) func() {
	p.mu.Lock()
	l, ok := p.locks[key]
	if !ok {
		l = &pairLock{}
		p.locks[key] = l
	}
	l.refs++
	p.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, key)
		}
		p.mu.Unlock()
	}
}
