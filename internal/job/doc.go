// Package job defines the identity of a schedulable job.
//
// A Key is an immutable (group, name) pair. Its qualified name "group.name"
// is the registry key used by the scheduler.
package job
