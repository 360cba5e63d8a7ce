package generate

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// longestSentinel bounds how much text the filter must hold back before it
// can be sure a partial tag isn't forming at the end of a chunk.
var longestSentinel = maxLen(thinkOpen, thinkClose)

func maxLen(a, b string) int {
	if len(a) > len(b) {
		return len(a)
	}
	return len(b)
}

// thinkFilter strips <think>...</think> spans from a stream of text deltas
// without ever leaking a partial sentinel to the caller.
type thinkFilter struct {
	buf      strings.Builder
	inThink  bool
	carryOut strings.Builder // text ready to be held back pending sentinel match
}

func newThinkFilter() *thinkFilter {
	return &thinkFilter{}
}

// StripThink removes any <think>...</think> spans from a complete,
// non-streamed response.
func StripThink(s string) string {
	f := newThinkFilter()
	var b strings.Builder
	b.WriteString(f.feed(s))
	b.WriteString(f.flush())
	return b.String()
}

// feed appends a raw token and returns the portion of sanitised text that is
// now safe to emit.
func (f *thinkFilter) feed(token string) string {
	f.carryOut.WriteString(token)
	pending := f.carryOut.String()
	f.carryOut.Reset()

	var emit strings.Builder

	for {
		if f.inThink {
			idx := strings.Index(pending, thinkClose)
			if idx < 0 {
				// Might still be mid-sentinel at the tail; nothing to emit,
				// just hold the unresolved suffix.
				f.carryOut.WriteString(holdTail(pending, thinkClose))
				return emit.String()
			}
			pending = pending[idx+len(thinkClose):]
			f.inThink = false
			continue
		}

		idx := strings.Index(pending, thinkOpen)
		if idx < 0 {
			safe, hold := splitSafe(pending, thinkOpen)
			emit.WriteString(safe)
			f.carryOut.WriteString(hold)
			return emit.String()
		}
		emit.WriteString(pending[:idx])
		pending = pending[idx+len(thinkOpen):]
		f.inThink = true
	}
}

// flush returns any buffered text that was being held back for a sentinel
// that never completed (end of stream reached mid-buffer).
func (f *thinkFilter) flush() string {
	if f.inThink {
		f.carryOut.Reset()
		return ""
	}
	out := f.carryOut.String()
	f.carryOut.Reset()
	return out
}

// splitSafe returns the prefix of s guaranteed not to be the start of
// sentinel, and the suffix (shorter than len(sentinel)) that might still
// grow into one on the next feed.
func splitSafe(s, sentinel string) (safe, hold string) {
	holdLen := len(sentinel) - 1
	if holdLen <= 0 || len(s) <= holdLen {
		return "", s
	}
	cut := len(s) - holdLen
	for cut < len(s) {
		if strings.HasPrefix(sentinel, s[cut:]) {
			break
		}
		cut++
	}
	return s[:cut], s[cut:]
}

// ThinkFilter is the exported wrapper around thinkFilter so other Generator
// Adapter implementations (internal/llmclient) outside this package can
// reuse the same think-tag stripping state machine instead of reimplementing
// it.
type ThinkFilter struct{ f *thinkFilter }

// NewThinkFilter returns a fresh filter with no buffered state.
func NewThinkFilter() *ThinkFilter { return &ThinkFilter{f: newThinkFilter()} }

// Feed appends a raw token and returns the sanitised text now safe to emit.
func (t *ThinkFilter) Feed(token string) string { return t.f.feed(token) }

// Flush returns any text buffered at end-of-stream.
func (t *ThinkFilter) Flush() string { return t.f.flush() }

// holdTail returns the suffix of s that could still be forming sentinel,
// used while inside a <think> span waiting for </think>.
func holdTail(s, sentinel string) string {
	_, hold := splitSafe(s, sentinel)
	return hold
}
