// Package cache remembers per-artifact findings keyed by an xxhash of the
// artifact's content and of the run configuration, so repeated scans of
// unchanged evidence skip the read.
package cache
