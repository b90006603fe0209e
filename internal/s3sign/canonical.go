package s3sign

import (
	"sort"
	"strings"
)

// headerSet is a scratch build-up of the headers participating in a
// header-mode canonical request, keyed by lowercase header name.
type headerSet struct {
	names  []string
	values map[string]string
}

func newHeaderSet() *headerSet {
	return &headerSet{values: make(map[string]string)}
}

func (h *headerSet) add(name, value string) {
	lower := strings.ToLower(name)
	if _, exists := h.values[lower]; !exists {
		h.names = append(h.names, lower)
	}
	h.values[lower] = value
}

// canonicalAndSigned renders the canonical-headers block (each line
// "name:value\n", lexicographically by name) and the semicolon-joined
// signed-headers list, per spec.md §4.4.
func (h *headerSet) canonicalAndSigned() (canonical, signed string) {
	names := append([]string(nil), h.names...)
	sort.Strings(names)

	var cb strings.Builder
	for _, n := range names {
		cb.WriteString(n)
		cb.WriteByte(':')
		cb.WriteString(h.values[n])
		cb.WriteByte('\n')
	}
	return cb.String(), strings.Join(names, ";")
}

// buildCanonicalRequestHeaders assembles the canonical request string
// for header-based signing (spec.md §4.4).
func buildCanonicalRequestHeaders(method, canonicalURI, searchParams string, headers *headerSet, contentHash string) string {
	canonicalHeaders, signedHeaders := headers.canonicalAndSigned()
	return strings.Join([]string{
		method,
		canonicalURI,
		searchParams,
		canonicalHeaders,
		signedHeaders,
		contentHash,
	}, "\n")
}

// buildCanonicalRequestQuery assembles the canonical request string for
// presigned-URL signing, whose only canonical header is "host" and
// whose other parameters travel in the query string (spec.md §4.4).
func buildCanonicalRequestQuery(method, canonicalURI, searchParams, host, contentHash string) string {
	headers := newHeaderSet()
	headers.add("host", host)
	canonicalHeaders, signedHeaders := headers.canonicalAndSigned()
	return strings.Join([]string{
		method,
		canonicalURI,
		searchParams,
		canonicalHeaders,
		signedHeaders,
		contentHash,
	}, "\n")
}
