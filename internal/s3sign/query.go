package s3sign

import (
	"sort"
	"strings"
)

// KV is an ordered query parameter.
type KV struct {
	Key   string
	Value string
}

// canonicalQueryString renders params as a SigV4 canonical query
// string: percent-encoded, sorted by key then value, '&'-joined, with
// no leading '?'. '/' is not preserved in query values.
func canonicalQueryString(params []KV) string {
	if len(params) == 0 {
		return ""
	}
	sorted := append([]KV(nil), params...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Key != sorted[j].Key {
			return sorted[i].Key < sorted[j].Key
		}
		return sorted[i].Value < sorted[j].Value
	})
	parts := make([]string, len(sorted))
	for i, kv := range sorted {
		parts[i] = percentEncode(kv.Key, false) + "=" + percentEncode(kv.Value, false)
	}
	return strings.Join(parts, "&")
}

// buildQueryString renders params in the exact order given, '&'-joined
// with a leading '?' when non-empty. Used for the presigned URL's
// X-Amz-* parameters, whose order is spec-mandated (spec.md §4.4) and
// must not be re-sorted.
func buildQueryString(params []KV) string {
	if len(params) == 0 {
		return ""
	}
	parts := make([]string, len(params))
	for i, kv := range params {
		parts[i] = percentEncode(kv.Key, false) + "=" + percentEncode(kv.Value, false)
	}
	return "?" + strings.Join(parts, "&")
}
