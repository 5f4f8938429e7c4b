// Package lockstore provides locked key-value storage for typed items over
// interchangeable backends. Callers acquire an exclusive lock before
// mutating an item, save while holding it, and release it when done; the
// lock token is the proof of ownership on every write.
//
// Three backends implement the same contract: process memory for tests and
// ephemeral data, a filesystem layout whose atomic primitive is exclusive
// lock marker creation, and S3-compatible object storage driven entirely by
// ETag-conditioned writes. Open selects a backend from a store URL such as
// mem://, disk:///var/lib/data or s3://host:9000/bucket/prefix.
package lockstore
