// Package storage provides the persistent session and shard stores behind
// the recovery engine, selected by location URI through StoreFactory.
//
// Supported backends:
//
//   - memory:// — in-process maps, used by tests and the dev server
//   - file:///path — one JSON document per record on the local filesystem
//   - sqlite:///path/db.sqlite — embedded SQLite database
//   - s3://bucket/prefix?region=us-east-1 — Amazon S3 or compatible
//   - vault://host:8200/mount?token=... — HashiCorp Vault KV v2
//
// Every backend enforces the same monotonic contract: sessions and shard
// slots are write-once, IsVerified and IsComplete flip false to true at most
// once, and the session-id registry is append-only in creation order.
package storage
