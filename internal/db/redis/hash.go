package redis

import (
	"context"
	"fmt"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/hybridsearch/internal/db"
)

// HSetMulti stores multiple hashes in a single DoMulti round-trip.
func (s *Store) HSetMulti(ctx context.Context, items []db.HashSetItem) error {
	if len(items) == 0 {
		return nil
	}

	cmds := make([]rueidis.Completed, len(items))
	for i, item := range items {
		cmd := s.b().Hset().Key(item.Key).FieldValue()
		for k, v := range item.Fields {
			cmd = cmd.FieldValue(k, v)
		}
		cmds[i] = cmd.Build()
	}

	for i, res := range s.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return &db.Error{Op: db.OpHSet, Err: fmt.Errorf("key %s: %w", items[i].Key, err)}
		}
	}
	return nil
}

// HGetMulti reads field from every key in a single DoMulti round-trip.
func (s *Store) HGetMulti(ctx context.Context, keys []string, field string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	cmds := make([]rueidis.Completed, len(keys))
	for i, key := range keys {
		cmds[i] = s.b().Hget().Key(key).Field(field).Build()
	}

	out := make([]string, len(keys))
	for i, res := range s.client.DoMulti(ctx, cmds...) {
		v, err := res.ToString()
		if rueidis.IsRedisNil(err) {
			continue
		}
		if err != nil {
			return nil, &db.Error{Op: db.OpHGet, Err: fmt.Errorf("key %s: %w", keys[i], err)}
		}
		out[i] = v
	}
	return out, nil
}

// Del deletes keys. Missing keys are ignored.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.do(ctx, s.b().Del().Key(keys...).Build()).Error(); err != nil {
		return &db.Error{Op: db.OpDel, Err: err}
	}
	return nil
}

// SAddMulti adds members to several sets in a single DoMulti round-trip.
func (s *Store) SAddMulti(ctx context.Context, members map[string][]string) error {
	cmds := make([]rueidis.Completed, 0, len(members))
	keys := make([]string, 0, len(members))
	for key, m := range members {
		if len(m) == 0 {
			continue
		}
		cmds = append(cmds, s.b().Sadd().Key(key).Member(m...).Build())
		keys = append(keys, key)
	}
	if len(cmds) == 0 {
		return nil
	}

	for i, res := range s.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return &db.Error{Op: db.OpSAdd, Err: fmt.Errorf("key %s: %w", keys[i], err)}
		}
	}
	return nil
}

// SRemMulti removes members from several sets in a single DoMulti round-trip.
func (s *Store) SRemMulti(ctx context.Context, members map[string][]string) error {
	cmds := make([]rueidis.Completed, 0, len(members))
	keys := make([]string, 0, len(members))
	for key, m := range members {
		if len(m) == 0 {
			continue
		}
		cmds = append(cmds, s.b().Srem().Key(key).Member(m...).Build())
		keys = append(keys, key)
	}
	if len(cmds) == 0 {
		return nil
	}

	for i, res := range s.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return &db.Error{Op: db.OpSRem, Err: fmt.Errorf("key %s: %w", keys[i], err)}
		}
	}
	return nil
}

// SMembers returns the members of a set; a missing set is empty.
func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.do(ctx, s.b().Smembers().Key(key).Build()).AsStrSlice()
	if err != nil {
		return nil, &db.Error{Op: db.OpSMembers, Err: err}
	}
	return members, nil
}
