// Package integrity verifies remote copies against local files with HEAD
// probes.
//
// A probe compares the content-length of the remote object with the size of
// the local file. When an item carries a SHA-256 checksum and the server
// answers with an x-checksum-sha256 header or a 64-digit hex ETag, the
// checksums are compared as well.
//
// Probes run through a transfer.Pool with retries disabled, so a failing probe
// counts as a mismatch rather than being retried.
package integrity
