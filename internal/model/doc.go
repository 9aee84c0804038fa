// Package model defines the value types shared by the local store, the sync
// engine, and the remote data source: surveys and their job/task definitions,
// locations of interest and submissions, typed responses, and the immutable
// mutations that record queued local edits.
//
// Everything in this package is a plain value. Mutations are never modified
// after construction; sync bookkeeping (status, retry count, last error) is
// updated on the persisted queue row, not on the value itself.
package model
