// Package kvstore is an embedded key-value store for string keys and values,
// persisted in a single append-only log file.
//
// # Store Structure
//
// A store lives in a directory and consists of:
//   - a log file (default: "kvs.db") with one record per Set or Remove
//   - a lock file ("kvs.lock") held while the store is open
//
// Each record in the log is a frame:
//
//	[8 bytes big-endian length][length bytes of msgpack encoded command]
//
// A set command is encoded as [1, key, value] and a remove as [2, key].
//
// On Open the log is replayed from the start to build an in-memory index
// (last write wins, remove deletes the key). Get only reads the index.
//
// # Compaction
//
// Overwritten and removed keys leave stale records behind. After every write,
// if the log holds at least CompactRatio (default 3) records per live key,
// it's rewritten with a single set record per live key. The new log is
// written to a temporary file and renamed over the old one, so a crash
// during compaction leaves either the old or the new log, never a mix.
//
// # Basic Usage
//
//	s, err := kvstore.Open("./data")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	err = s.Set("name", "John")
//	v, ok := s.Get("name")
//	v, err = s.Remove("name")
//	if errors.Is(err, kvstore.ErrKeyNotFound) {
//	    // ...
//	}
//
// To change settings, fill Store fields and call OpenStore:
//
//	s := &kvstore.Store{
//	    Dir:       "./data",
//	    SyncWrite: true,
//	}
//	err := kvstore.OpenStore(s)
//
// # Thread Safety
//
// A Store is not safe for concurrent use. Only one Store can have
// a given directory open at a time, a second Open fails with ErrLocked.
package kvstore
