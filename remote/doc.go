// Package remote is the thin HTTP client for the backing REST API. It builds
// requests, decodes response envelopes, and classifies failures into
// connectivity-class errors (retry later) and terminal rejections (do not
// retry), which is the distinction the sync engine and gateway act on.
package remote
