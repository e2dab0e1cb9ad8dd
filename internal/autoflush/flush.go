package autoflush

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/opaldolphin/opaldolphin/internal/schema"
	"github.com/opaldolphin/opaldolphin/internal/shared/stringutils"
)

const (
	// excerptTurnMaxChars caps a single message inside the excerpt.
	excerptTurnMaxChars = 2000
	// maxExtractedItems caps how many memory items one flush may store.
	maxExtractedItems = 10
	// itemSeparator joins sanitized items into one memory entry.
	itemSeparator = " | "
)

var reListPrefix = regexp.MustCompile(`^\d+[.)]\s*`)

// flushOne processes a single committed record: build the excerpt, run the
// extraction under its timeout, store the result, and reconcile the record.
// The extraction runs under its own context so a worker shutdown never
// abandons a record in the in-flight state.
func (w *Worker) flushOne(rec Record) {
	ex := w.cfg.Memory.AutoFlush.Extractor

	timeout := time.Duration(ex.MaxExtractionSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	msgs, sessionUpdated, _ := w.sessions.History(rec.AgentName, rec.SessionID)

	excerpt := buildExcerpt(msgs, ex.MaxMessagesPerFlush, ex.MaxCharsPerFlush)
	if len(excerpt) == 0 {
		// Nothing to summarize: a no-op success.
		w.reconcileSuccess(rec, sessionUpdated, false)
		return
	}

	snippets := w.recentSnippets(rec.AgentName)
	prompt := buildExtractionPrompt(excerpt, snippets, ex.NoReplyToken)

	raw, err := w.summarizer.Summarize(ctx, prompt)
	if err != nil {
		w.reconcileFailure(rec, err)
		return
	}

	items := sanitizeExtraction(raw, ex.NoReplyToken)
	stored := false
	if len(items) > 0 {
		text := strings.Join(items, itemSeparator)
		provenance := fmt.Sprintf("session %s@%d", rec.SessionID, sessionUpdated)
		if err := w.memory.Append(rec.AgentName, text, provenance); err != nil {
			w.reconcileFailure(rec, fmt.Errorf("append memory: %w", err))
			return
		}
		stored = true
	}

	w.reconcileSuccess(rec, sessionUpdated, stored)
}

// recentSnippets returns the dedupe context: recent memory entries,
// truncated, ordered oldest-first for the prompt.
func (w *Worker) recentSnippets(agent string) []string {
	mc := w.cfg.Memory.AutoFlush.Extractor.IncludeMemoryContext
	entries := w.memory.Recent(agent, mc.MemorySnippets)
	for i, e := range entries {
		entries[i] = stringutils.Truncate(e, mc.SnippetMaxChars)
	}
	// Recent() is most-recent-first; the prompt reads oldest-first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries
}

// reconcileSuccess finalizes a record after a successful (or no-op) flush.
// If the dirty revision advanced while the flush ran, the record stays
// dirty and keeps its boost; otherwise it becomes clean.
func (w *Worker) reconcileSuccess(claimed Record, flushedSessionUpdated int64, stored bool) {
	key := claimed.Key()
	latest := int64(0)
	if v, ok := w.sessions.UpdatedAt(claimed.AgentName, claimed.SessionID); ok {
		latest = v
	}

	now := w.now().UnixMilli()
	w.tracker.withState(func(st *State) {
		rec, ok := st.Sessions[key]
		if !ok {
			return
		}

		rearmed := rec.FlushStartedDirtyRevision != nil && rec.DirtyRevision > *rec.FlushStartedDirtyRevision
		if rearmed {
			slog.Info("autoflush: session re-dirtied mid-flush, keeping dirty", "key", key)
		} else {
			rec.Dirty = false
			rec.PriorityBoostAt = nil
		}

		ts := now
		rec.LastFlushedAt = &ts
		flushed := flushedSessionUpdated
		rec.LastFlushedSessionUpdatedAt = &flushed
		if latest > 0 {
			l := latest
			rec.LastSessionUpdatedAt = &l
		}
		rec.NextAttemptAt = nil
		rec.ConsecutiveFailures = 0
		rec.InFlight = false
		rec.FlushStartedDirtyRevision = nil
	})

	if stored {
		slog.Info("autoflush: stored memory", "key", key)
	}
}

// reconcileFailure releases a failed record with an exponential retry
// cooldown. The record stays dirty; a failure never aborts the cycle.
func (w *Worker) reconcileFailure(claimed Record, cause error) {
	key := claimed.Key()
	af := w.cfg.Memory.AutoFlush
	now := w.now().UnixMilli()

	var failures int
	w.tracker.withState(func(st *State) {
		rec, ok := st.Sessions[key]
		if !ok {
			return
		}
		rec.ConsecutiveFailures++
		failures = rec.ConsecutiveFailures

		delay := backoffDelay(
			time.Duration(af.RetryCooldownSeconds)*time.Second,
			time.Duration(af.MaxRetryCooldownSeconds)*time.Second,
			failures,
		)
		next := now + delay.Milliseconds()
		rec.NextAttemptAt = &next
		rec.InFlight = false
		rec.FlushStartedDirtyRevision = nil
	})

	slog.Warn("autoflush: flush failed, scheduling retry", "key", key, "failures", failures, "err", cause)
}

// backoffDelay computes min(max, base * 2^(failures-1)).
func backoffDelay(base, max time.Duration, failures int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

// buildExcerpt walks messages newest-first, keeps user/assistant turns with
// whitespace collapsed and each truncated to excerptTurnMaxChars, and stops
// at maxMessages or maxChars. The result reads in chronological order.
func buildExcerpt(msgs []schema.Message, maxMessages, maxChars int) []string {
	if maxMessages <= 0 {
		maxMessages = 40
	}
	if maxChars <= 0 {
		maxChars = 16000
	}

	var lines []string
	total := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		if msg.Role != "user" && msg.Role != "assistant" {
			continue
		}
		content := stringutils.CollapseWhitespace(msg.Content)
		if content == "" {
			continue
		}
		line := strings.ToUpper(msg.Role) + ": " + stringutils.Truncate(content, excerptTurnMaxChars)
		if len(lines) > 0 && total+len(line) > maxChars {
			break
		}
		lines = append(lines, line)
		total += len(line)
		if len(lines) >= maxMessages || total >= maxChars {
			break
		}
	}

	// Restore chronological order.
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines
}

// buildExtractionPrompt renders the extraction instructions, the dedupe
// context, and the conversation excerpt.
func buildExtractionPrompt(excerpt, snippets []string, sentinel string) string {
	var b strings.Builder
	b.WriteString("Extract durable long-term memories from this conversation.\n\n")
	b.WriteString("Keep only lasting facts, user preferences, decisions, and action items. ")
	b.WriteString("Ignore chit-chat, greetings, and transient statements.\n")
	fmt.Fprintf(&b, "If nothing qualifies, reply with exactly %q and nothing else.\n", sentinel)
	b.WriteString("Otherwise reply with one candidate memory per line, no commentary.\n")

	if len(snippets) > 0 {
		b.WriteString("\n## Already Stored (do not repeat)\n")
		for _, s := range snippets {
			b.WriteString(s)
			b.WriteByte('\n')
		}
	}

	b.WriteString("\n## Conversation\n")
	b.WriteString(strings.Join(excerpt, "\n"))
	return b.String()
}

// sanitizeExtraction normalizes raw summarizer output into distinct memory
// items: sentinel handling (case-insensitive), bullet/number stripping,
// order-preserving case-insensitive dedupe, and the item cap.
func sanitizeExtraction(raw, sentinel string) []string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.EqualFold(trimmed, sentinel) {
		return nil
	}

	var items []string
	seen := map[string]bool{}
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "* ")
		line = reListPrefix.ReplaceAllString(line, "")
		line = strings.TrimSpace(line)
		if line == "" || strings.EqualFold(line, sentinel) {
			continue
		}
		lower := strings.ToLower(line)
		if seen[lower] {
			continue
		}
		seen[lower] = true
		items = append(items, line)
		if len(items) >= maxExtractedItems {
			break
		}
	}
	return items
}
