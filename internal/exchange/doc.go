// Package exchange persists partial coverage state to the filesystem so
// parallel test workers, which share a working directory but no memory, can
// be combined into a single report.
//
// Each worker owns a uniquely-named pair of files in a shared exchange
// directory: one holding its runtime filter additions, one holding its
// registry snapshot. The pair is named by a fingerprint derived from the
// working directory and the process id, so a glob over the directory-hash
// prefix enumerates every worker of one run. The merging leader reads each
// file, applies it, and deletes it; a lock file makes consumption at-most-once
// even when two processes both believe they are the leader.
package exchange
