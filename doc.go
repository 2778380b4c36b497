/*
Package poolkv is an embeddable, crash-consistent ordered key-value store.

Records live in a pool: a directory holding a metadata file, a write-ahead
log and periodic checkpoints. Several engine flavors share the pool layout
and differ in their index (see package db for the list). Every write is
acknowledged only once it is durable, and a crash at any point recovers to
the last acknowledged write.

# Usage

	cfg := poolkv.NewConfig()
	cfg.PutPath(dir)
	cfg.PutCreateIfMissing(true)

	eng, err := poolkv.Open("stree", cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

For runnable examples, see the repository's examples directory.

# Concurrency

An Engine is safe for concurrent use by multiple goroutines. Iterator
instances are not; each goroutine should use its own.
*/
package poolkv
