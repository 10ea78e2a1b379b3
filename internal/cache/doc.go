// Package cache implements the disk tier of spate: every logical key maps to
// <BasePath>/io.spate.diskCache/<Name>/<sanitized key>.cache, the file body is
// the encoded Entry and the file modification time doubles as the LRU recency
// signal. The directory listing is the index; no metadata file is kept.
//
// All mutations (set, remove, touch, capacity changes, eviction) run on a
// single write queue, reads run on a separate read queue. Operational
// failures degrade to a miss or a no-op and are logged; only Open can fail.
package cache
