package checkpoint

import "strings"

// keyPrefix namespaces every Redis key of the store.
const keyPrefix = "grid"

// runKey builds deterministic Redis keys for one run.
//
// Layout:
//
//	grid:runs                      ZSET  run id scored by creation time (unix nanos)
//	grid:run:{id}                  HASH  created_at, updated_at, source
//	grid:run:{id}:ids              LIST  identifiers in input order
//	grid:run:{id}:attempt:{series} STRING JSON Attempt
//	grid:run:{id}:payload:{series} STRING raw payload
type runKey string

func runsIndexKey() string {
	return keyPrefix + ":runs"
}

func (k runKey) String() string {
	return strings.Join([]string{keyPrefix, "run", string(k)}, ":")
}

func (k runKey) identifiers() string {
	return k.String() + ":ids"
}

func (k runKey) attempt(seriesID string) string {
	return k.String() + ":attempt:" + seriesID
}

func (k runKey) payload(seriesID string) string {
	return k.String() + ":payload:" + seriesID
}
