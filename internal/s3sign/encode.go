package s3sign

import (
	"strings"
)

const (
	maxBucketBytes = 63
	maxKeyBytes    = 1024
)

// rfc3986Unreserved are the bytes that RFC 3986 (and AWS's signing
// spec) leave unescaped.
func isRFC3986Unreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_' || c == '.' || c == '~':
		return true
	}
	return false
}

const upperhex = "0123456789ABCDEF"

// percentEncode escapes s per RFC 3986, using uppercase hex escapes.
// When preserveSlash is true, '/' passes through unescaped (used for
// object keys); otherwise '/' is escaped like any other reserved byte
// (used for bucket names, query parameters and Content-Disposition).
func percentEncode(s string, preserveSlash bool) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case isRFC3986Unreserved(c):
			b.WriteByte(c)
		case c == '/' && preserveSlash:
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(upperhex[c>>4])
			b.WriteByte(upperhex[c&0xF])
		}
	}
	return b.String()
}

// resolvePath splits a logical path into (bucket, key), normalizing
// separators and stripping a leading slash or backslash, per spec.md
// §4.1. If credsBucket is non-empty, the whole path is treated as the
// key; otherwise the bucket is the first path segment.
func resolvePath(path, credsBucket string) (bucket, key string, err error) {
	p := strings.ReplaceAll(path, "\\", "/")
	p = strings.TrimPrefix(p, "/")

	if credsBucket != "" {
		bucket = credsBucket
		key = p
	} else {
		idx := strings.IndexByte(p, '/')
		if idx < 0 {
			bucket = p
			key = ""
		} else {
			bucket = p[:idx]
			key = p[idx+1:]
		}
	}

	if key == "" {
		return "", "", ErrInvalidPath
	}

	encodedBucket := percentEncode(bucket, false)
	if len(encodedBucket) > maxBucketBytes {
		return "", "", ErrInvalidPath
	}
	encodedKey := percentEncode(key, true)
	if len(encodedKey) > maxKeyBytes {
		return "", "", ErrInvalidPath
	}

	return bucket, key, nil
}

// canonicalObjectPath returns the canonical "/<bucket>/<key>" URI,
// each segment independently percent-encoded with '/' preserved
// within the key.
func canonicalObjectPath(bucket, key string) string {
	return "/" + percentEncode(bucket, false) + "/" + percentEncode(key, true)
}
