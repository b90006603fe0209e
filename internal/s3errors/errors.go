// Package s3errors classifies S3 REST responses into the taxonomy
// spec.md §4.8 and §7 describe: strict XML <Error> parsing, the
// 200-OK-but-<Error>-body check used by commit/part responses, and
// not-found detection for stat/download/delete.
package s3errors

import (
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
)

// Error is a classified S3 protocol error.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type errorEnvelope struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}

var (
	codeRe    = regexp.MustCompile(`<Code>([^<]*)</Code>`)
	messageRe = regexp.MustCompile(`<Message>([^<]*)</Message>`)
)

// ErrorWithBody implements the strict-parse mode (spec.md §4.8.1):
// extracts <Code>/<Message> from the body; when absent, defaults to
// NoSuchKey for the not-found class or UnknownError otherwise.
func ErrorWithBody(body []byte, notFound bool) *Error {
	code := string(firstSubmatch(codeRe, body))
	message := string(firstSubmatch(messageRe, body))

	if code != "" || message != "" {
		if code == "" {
			code = "UnknownError"
		}
		if message == "" {
			message = "an unexpected error has occurred"
		}
		return &Error{Code: code, Message: message}
	}

	if notFound {
		return &Error{Code: "NoSuchKey", Message: "The specified key does not exist."}
	}
	return &Error{Code: "UnknownError", Message: "an unexpected error has occurred"}
}

func firstSubmatch(re *regexp.Regexp, body []byte) []byte {
	m := re.FindSubmatch(body)
	if len(m) < 2 {
		return nil
	}
	return m[1]
}

// ContainsErrorElement reports whether body carries a bare <Error>
// envelope, independent of HTTP status — the check spec.md §4.8.2
// ("failIfContainsError") applies to 200-OK commit/part responses,
// since S3 can fail a multipart operation after sending a 200 status
// line by streaming an <Error> body instead of the expected success
// document.
func ContainsErrorElement(body []byte) bool {
	var env errorEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return false
	}
	return env.XMLName.Local == "Error"
}

// FailIfContainsError implements spec.md §4.8.2: a 2xx response is
// still a failure if its body contains an <Error> element; 200/206
// otherwise pass.
func FailIfContainsError(statusCode int, body []byte) *Error {
	if ContainsErrorElement(body) {
		return ErrorWithBody(body, false)
	}
	if statusCode == 200 || statusCode == 206 {
		return nil
	}
	return ErrorWithBody(body, false)
}

// ReadAllLimited reads r fully; used by callers that need the body in
// memory to run both classifiers above.
func ReadAllLimited(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}
