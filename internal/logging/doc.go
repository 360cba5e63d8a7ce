// Package logging owns the chat server's structured log output: one JSON
// line per event, written to a size-rotated file under ~/.govrag/logs and
// mirrored to stderr unless disabled. Pipeline events carry session_id and
// turn_id attributes, so a single conversation's retrieval, grounding, and
// persistence path can be followed with `govrag logs`.
//
// The embedding backend writes its own file in the same directory; the
// viewer can merge both streams into one chronological view.
package logging
