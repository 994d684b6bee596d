package history

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roach88/userops/internal/codec"
	"github.com/roach88/userops/internal/record"
)

// MergeBy concatenates the given lists, keeps the first item seen for each
// key, and sorts the result by timestamp descending.
//
// The input slices are not modified.
func MergeBy[T any](key func(T) string, ts func(T) time.Time, lists ...[]T) []T {
	n := 0
	for _, l := range lists {
		n += len(l)
	}
	out := make([]T, 0, n)
	seen := make(map[string]struct{}, n)
	for _, l := range lists {
		for _, item := range l {
			k := key(item)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, item)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return ts(out[i]).After(ts(out[j]))
	})
	return out
}

// Merge produces the owner's timeline from local operations and historical
// records. Local entries win over historical ones with the same id.
func Merge(local []record.Operation, hist []record.Historical) []record.Entry {
	entries := make([]record.Entry, 0, len(local))
	for _, op := range local {
		entries = append(entries, op.Entry())
	}
	fetched := make([]record.Entry, 0, len(hist))
	for _, h := range hist {
		fetched = append(fetched, h.Entry())
	}
	return MergeBy(entryKey, entryTime, entries, fetched)
}

// entryKey dedupes by id. Entries without an id have no stronger key than
// their content and timestamp.
func entryKey(e record.Entry) string {
	if e.ID != "" {
		return "id:" + strings.ToLower(e.ID)
	}
	return contentKey(e)
}

func contentKey(e record.Entry) string {
	return fmt.Sprintf("content:%s|%d", codec.TextKey(e.Payload), e.Timestamp.UnixMilli())
}

func entryTime(e record.Entry) time.Time { return e.Timestamp }

// MergeChat combines the owner's message operations addressed to
// counterpart with chat history read from the remote service.
//
// Chat messages carry no id or timestamp. Each gets the local reference
// "chat-{i}" and an approximate timestamp now-(n-i) seconds, so later
// messages sort newer. Entries are deduped by (content, timestamp).
func MergeChat(ops []record.Operation, chat []string, counterpart string, now time.Time) []record.Entry {
	local := make([]record.Entry, 0, len(ops))
	for _, op := range ops {
		if op.Kind != record.KindMessage || !record.SameAddress(op.Target, counterpart) {
			continue
		}
		local = append(local, op.Entry())
	}

	n := len(chat)
	remote := make([]record.Entry, 0, n)
	for i, msg := range chat {
		remote = append(remote, record.Entry{
			ID:        fmt.Sprintf("chat-%d", i),
			Target:    counterpart,
			Payload:   msg,
			Timestamp: now.Add(-time.Duration(n-i) * time.Second).UTC(),
			Status:    record.StatusCompleted,
			Source:    record.SourceChat,
		})
	}
	return MergeBy(contentKey, entryTime, local, remote)
}

// Participants returns the distinct counterparts of the owner's message
// operations, in first-seen order. Addresses compare case-insensitively.
func Participants(ops []record.Operation) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, op := range ops {
		if op.Kind != record.KindMessage || op.Target == "" {
			continue
		}
		k := strings.ToLower(op.Target)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, op.Target)
	}
	return out
}
