// Package rules persists subscriber rule sets and the dispatch watermark.
//
// All rules live in one JSON document under RulesKey. Every mutation reads
// the whole document and writes it back with a conditional write, retrying
// when another writer got there first.
package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"

	"acgn_relay/internal/model"
	"acgn_relay/internal/storage"
)

// Persisted keys.
const (
	RulesKey     = "rules"
	WatermarkKey = "lastUpdated"
)

const maxWriteRetries = 5

// ErrConflict is returned when the rules document kept changing underneath
// a mutation and the retry budget ran out.
var ErrConflict = errors.New("rules document changed concurrently")

// Document maps subscriber IDs to their ordered rules.
type Document map[string][]model.Rule

// Store reads and mutates the rules document.
type Store struct {
	kv         storage.KV
	newBackOff func() backoff.BackOff
}

// NewStore creates a Store on top of kv.
func NewStore(kv storage.KV) *Store {
	return &Store{
		kv: kv,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 20 * time.Millisecond
			b.MaxInterval = 500 * time.Millisecond
			return backoff.WithMaxRetries(b, maxWriteRetries)
		},
	}
}

// Load returns the rules of one subscriber, or an empty slice if it has none.
func (s *Store) Load(ctx context.Context, subscriberID string) ([]model.Rule, error) {
	doc, _, _, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	return doc[subscriberID], nil
}

// ListAll returns every subscriber that has at least one rule.
func (s *Store) ListAll(ctx context.Context) (Document, error) {
	doc, _, _, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	for id, rs := range doc {
		if len(rs) == 0 {
			delete(doc, id)
		}
	}
	return doc, nil
}

// Append adds rule to the end of the subscriber's list, creating the entry if
// needed. If the rule ID is already used by that subscriber a new one is
// generated; the stored rule is returned.
func (s *Store) Append(ctx context.Context, subscriberID string, rule model.Rule) (model.Rule, error) {
	var stored model.Rule
	err := s.update(ctx, func(doc Document) bool {
		stored = rule
		existing := doc[subscriberID]
		for idTaken(existing, stored.ID) {
			stored.ID = model.NewRuleID()
		}
		doc[subscriberID] = append(existing, stored)
		return true
	})
	if err != nil {
		return model.Rule{}, err
	}
	return stored, nil
}

// Remove deletes the first rule with ruleID from the subscriber's list.
// It reports false without writing if no such rule exists.
func (s *Store) Remove(ctx context.Context, subscriberID string, ruleID int64) (bool, error) {
	removed := false
	err := s.update(ctx, func(doc Document) bool {
		removed = false
		rs := doc[subscriberID]
		i := slices.IndexFunc(rs, func(r model.Rule) bool { return r.ID == ruleID })
		if i < 0 {
			return false
		}
		rs = slices.Delete(rs, i, i+1)
		if len(rs) == 0 {
			delete(doc, subscriberID)
		} else {
			doc[subscriberID] = rs
		}
		removed = true
		return true
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// update applies mutate to a fresh copy of the document and writes it back
// if mutate reports a change. Lost races are retried with backoff.
func (s *Store) update(ctx context.Context, mutate func(Document) bool) error {
	op := func() error {
		doc, raw, exists, err := s.read(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !mutate(doc) {
			return nil
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("encode rules: %w", err))
		}
		ok, err := s.kv.CompareAndSwap(ctx, RulesKey, raw, exists, string(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return ErrConflict
		}
		return nil
	}
	return backoff.Retry(op, backoff.WithContext(s.newBackOff(), ctx))
}

func (s *Store) read(ctx context.Context) (Document, string, bool, error) {
	raw, ok, err := s.kv.Get(ctx, RulesKey)
	if err != nil {
		return nil, "", false, fmt.Errorf("load rules: %w", err)
	}
	doc := Document{}
	if !ok || raw == "" {
		return doc, raw, ok, nil
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, "", false, fmt.Errorf("decode rules: %w", err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, raw, ok, nil
}

func idTaken(rs []model.Rule, id int64) bool {
	return slices.ContainsFunc(rs, func(r model.Rule) bool { return r.ID == id })
}
