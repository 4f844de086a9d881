// Package tasks holds the lease-based task queue that hands byte-range
// sections of sensor files out to workers.
//
// A Queue keeps three disjoint collections: pending tasks (FIFO, with failed
// and expired work re-inserted at the head), active leases, and accepted
// results waiting to be collected. Every operation runs under one lock, so no
// caller ever sees a task in two collections at once.
//
// Quick start:
//  1. q := tasks.NewQueue(tasks.QueueConfig{}) and go tasks.NewReaper(q, 0, nil).Run(ctx).
//  2. Submit tasks built with NewTask.
//  3. Workers call Grant, then Complete or Fail.
//  4. Callers poll Status and finally CollectResults.
package tasks
