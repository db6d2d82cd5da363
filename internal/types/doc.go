// Package types defines the core domain types shared across the YouTrek
// cache: issues, boards, saved queries, issue queries and their
// fingerprints, patches, outbox mutations, and sync/conflict artifacts.
//
// Types here are plain data with validation and rendering helpers; all
// persistence and network behavior lives in the storage, remote, and sync
// packages.
package types
