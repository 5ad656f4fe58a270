// Package store keeps discovered sessions in a single JSON document on disk.
//
// The whole collection lives in memory, keyed by session date, and every
// upsert rewrites the document atomically. A missing file is an empty store;
// a file that fails validation is logged and ignored, so the next upsert
// replaces it. The store is meant for one process at a time: nothing guards
// the file against a second writer.
package store
