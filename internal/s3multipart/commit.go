package s3multipart

import (
	"bytes"
	"fmt"
)

// buildCompleteMultipartBody renders the CompleteMultipartUpload XML
// body, bit-exact per spec.md §4.7: no extra whitespace between
// elements, parts pre-sorted ascending by part number.
func buildCompleteMultipartBody(etags []etagEntry) []byte {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString(`<CompleteMultipartUpload xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
	for _, e := range etags {
		fmt.Fprintf(&buf, "<Part><PartNumber>%d</PartNumber><ETag>%s</ETag></Part>", e.PartNumber, e.ETag)
	}
	buf.WriteString(`</CompleteMultipartUpload>`)
	return buf.Bytes()
}
