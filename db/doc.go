// Package db is the embeddable, crash-consistent ordered key-value engine.
//
// An Engine is opened by flavor name with a config.Config:
//
//	cfg := config.New()
//	cfg.PutPath("/var/lib/app/pool")
//	cfg.PutSize(64 << 20)
//	cfg.PutCreateIfMissing(true)
//
//	eng, err := db.Open("stree", cfg, nil)
//	if err != nil {
//		return err
//	}
//	defer eng.Close()
//
//	err = eng.Put([]byte("k"), []byte("v"))
//	err = eng.Get([]byte("k"), func(v []byte) { fmt.Printf("%s\n", v) })
//
// # Flavors
//
//   - vsmap: volatile, sorted. Records live in a copy-on-write B-tree.
//   - stree: persistent, sorted. A versioned skiplist over a pool directory.
//   - cmap: persistent, hashed. Sharded hash maps over a pool directory.
//     Iterators and bounded ranges report NOT_SUPPORTED.
//   - lsm: persistent, sorted, backed by goleveldb.
//   - blackhole: accepts writes and stores nothing.
//
// # Outcomes
//
// Every error is a *status.Error. NOT_FOUND and STOPPED_BY_CB are ordinary
// outcomes:
//
//	switch err := eng.Exists(key); {
//	case err == nil:
//	case errors.Is(err, status.ErrNotFound):
//	default:
//		return err
//	}
//
// # Isolation
//
// Range visitors and ReadIterators read a snapshot taken when they start.
// A WriteIterator stages its changes privately until Commit; nobody else
// sees them before that. While a WriteIterator is open, Put and Remove fail
// with TRANSACTION_SCOPE_ERROR instead of waiting.
//
// # Durability
//
// With durability "sync" (the default for persistent flavors) Put, Remove
// and Commit return after the write reached stable storage.
package db
