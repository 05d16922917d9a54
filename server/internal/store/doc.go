// Package store holds the latest sensor state of every tracked subject.
//
// Registry is keyed by subject id. Records are created lazily on the first
// reading and live for the lifetime of the process. Each record carries its
// own mutex, so readings and advisory updates for different subjects never
// contend; the registry-wide lock is only held to look up or insert a record.
//
// Every read returns a Record value copied under the subject lock, so callers
// always see a stress index and state consistent with the stored readings,
// and an advisory text together with the time it was produced.
package store
