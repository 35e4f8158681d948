package redis

import "github.com/kailas-cloud/hybridsearch/internal/db"

// Store is the subset of db.Store the redis backends use.
type Store interface {
	db.Pinger
	db.HashStore
	db.SetStore
	db.IndexManager
	db.Searcher
}
