// Package history builds the display timeline for an owner.
//
// Merge combines locally tracked operations with records fetched from an
// external history source into one deduplicated, newest-first view. It owns no
// state; callers pass snapshots. Place the more authoritative list first: when
// two entries share a key, the first one seen wins.
//
// Ordering of entries with identical timestamps is unspecified. Local and
// historical timestamps come from different origins with different
// granularity.
package history
