package s3sign

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	algorithm          = "AWS4-HMAC-SHA256"
	serviceName        = "s3"
	terminationString  = "aws4_request"
	amzDateFormat      = "20060102T150405Z"
	dateStampFormat    = "20060102"
	unsignedPayload    = "UNSIGNED-PAYLOAD"
	defaultExpirySecs  = 86400
)

// Header is a single (name, value) pair to send verbatim, in emission
// order, per spec.md §3's SignResult.
type Header struct {
	Name  string
	Value string
}

// SignOptions describes a single S3 REST operation to sign.
type SignOptions struct {
	Path               string
	Method             string // one of GET, POST, PUT, DELETE, HEAD
	ContentHash        string // defaults to UNSIGNED-PAYLOAD
	SearchParams       []KV
	ContentDisposition string
	ACL                ACL
}

// SignQueryOptions parameterizes presigned-URL (query-mode) signing.
type SignQueryOptions struct {
	Expires int // seconds; 0 means the default (86400)
}

// SignResult carries everything the caller needs to issue the
// request: the headers to attach verbatim (header mode) or the fully
// qualified URL (query mode).
type SignResult struct {
	AmzDate            string
	Host               string
	Authorization      string
	URL                string
	ContentDisposition string
	SessionToken       string
	ACL                ACL
	Headers            []Header
}

var validMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true, "HEAD": true,
}

// Signer produces SigV4 headers and presigned URLs for the credentials
// passed to each call. It is safe for concurrent use: the underlying
// signing key cache is its own internal lock, and Signer holds no other
// mutable state.
type Signer struct {
	hasher Hasher
	cache  *signingKeyCache
	now    func() time.Time // overridable for deterministic tests
}

// NewSigner constructs a Signer using the default stdlib crypto
// backend and wall-clock time.
func NewSigner() *Signer {
	return NewSignerWithHasher(DefaultHasher{})
}

// NewSignerWithHasher constructs a Signer over a caller-supplied
// Hasher, per spec.md §1's "cryptographic primitives reached through a
// narrow interface" requirement.
func NewSignerWithHasher(hasher Hasher) *Signer {
	return &Signer{
		hasher: hasher,
		cache:  newSigningKeyCache(hasher),
		now:    time.Now,
	}
}

func (s *Signer) hashHex(data []byte) string {
	sum := s.hasher.SHA256(data)
	return hex.EncodeToString(sum[:])
}

func (s *Signer) hmacHex(key, msg []byte) (string, error) {
	sum, err := s.hasher.HMACSHA256(key, msg)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum[:]), nil
}

func resolveScheme(creds *Credentials) string {
	if creds.InsecureHTTP {
		return "http"
	}
	return "https"
}

func resolveHost(creds *Credentials, region string) string {
	if creds.Endpoint != "" {
		return stripScheme(creds.Endpoint)
	}
	return fmt.Sprintf("s3.%s.amazonaws.com", region)
}

func stripScheme(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return strings.TrimSuffix(endpoint, "/")
}

func validateCredentials(creds *Credentials) error {
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return ErrMissingCredentials
	}
	return nil
}

const maxSessionTokenBytes = 4096

// validateSessionToken rejects tokens too long to be a genuine STS
// token, or containing bytes that cannot appear in a header value,
// before the token is attached to x-amz-security-token verbatim.
func validateSessionToken(token string) error {
	if len(token) > maxSessionTokenBytes {
		return ErrInvalidSessionToken
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		if c < 0x20 || c == 0x7f {
			return ErrInvalidSessionToken
		}
	}
	return nil
}

const hexDigits = "0123456789abcdef"

// validateSignature is a second line of defense after hmacHex: even a
// Hasher that reports success could return a malformed digest, so the
// shape of the signature is checked before it reaches an Authorization
// header or presigned URL.
func validateSignature(sig string) error {
	if len(sig) != 64 {
		return ErrInvalidSignature
	}
	for i := 0; i < len(sig); i++ {
		if strings.IndexByte(hexDigits, sig[i]) < 0 {
			return ErrInvalidSignature
		}
	}
	return nil
}

// Sign produces the Authorization header and the full header set for
// a header-signed S3 request (spec.md §4.4, header mode).
func (s *Signer) Sign(creds *Credentials, opts SignOptions) (*SignResult, error) {
	if err := validateCredentials(creds); err != nil {
		return nil, err
	}
	method := strings.ToUpper(opts.Method)
	if !validMethods[method] {
		return nil, ErrInvalidMethod
	}
	bucket, key, err := resolvePath(opts.Path, creds.Bucket)
	if err != nil {
		return nil, err
	}

	region := creds.EffectiveRegion()
	if region == "" {
		return nil, ErrInvalidEndpoint
	}
	host := resolveHost(creds, region)
	scheme := resolveScheme(creds)

	now := s.now().UTC()
	amzDate := now.Format(amzDateFormat)
	dateStamp := now.Format(dateStampFormat)

	contentHash := opts.ContentHash
	if contentHash == "" {
		contentHash = unsignedPayload
	}

	hasACL := opts.ACL != ACLNone
	hasDisposition := opts.ContentDisposition != ""
	hasSessionToken := creds.SessionToken != ""
	if hasSessionToken {
		if err := validateSessionToken(creds.SessionToken); err != nil {
			return nil, err
		}
	}

	headers := newHeaderSet()
	headers.add("host", host)
	headers.add("x-amz-content-sha256", contentHash)
	headers.add("x-amz-date", amzDate)

	var encodedDisposition string
	if hasDisposition {
		encodedDisposition = percentEncode(opts.ContentDisposition, false)
		headers.add("content-disposition", encodedDisposition)
	}
	if hasACL {
		headers.add("x-amz-acl", opts.ACL.String())
	}
	if hasSessionToken {
		headers.add("x-amz-security-token", creds.SessionToken)
	}

	canonicalURI := canonicalObjectPath(bucket, key)
	searchParams := canonicalQueryString(opts.SearchParams)

	canonicalRequest := buildCanonicalRequestHeaders(method, canonicalURI, searchParams, headers, contentHash)
	credentialScope := fmt.Sprintf("%s/%s/%s/%s", dateStamp, region, serviceName, terminationString)
	stringToSign := buildStringToSign(s, amzDate, credentialScope, canonicalRequest)

	signingKey, err := s.cache.get(now, dateStamp, region, serviceName, creds.SecretAccessKey)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	signature, err := s.hmacHex(signingKey[:], []byte(stringToSign))
	if err != nil {
		return nil, ErrInvalidSignature
	}
	if err := validateSignature(signature); err != nil {
		return nil, err
	}

	_, signedHeaders := headers.canonicalAndSigned()
	authorization := fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		algorithm, creds.AccessKeyID, credentialScope, signedHeaders, signature)

	result := &SignResult{
		AmzDate:       amzDate,
		Host:          host,
		Authorization: authorization,
		URL:           fmt.Sprintf("%s://%s%s", scheme, host, canonicalURI),
		ACL:           opts.ACL,
	}
	result.Headers = append(result.Headers,
		Header{"x-amz-content-sha256", contentHash},
		Header{"x-amz-date", amzDate},
		Header{"Authorization", authorization},
		Header{"Host", host},
	)
	if hasACL {
		result.Headers = append(result.Headers, Header{"x-amz-acl", opts.ACL.String()})
	}
	if hasSessionToken {
		result.Headers = append(result.Headers, Header{"x-amz-security-token", creds.SessionToken})
		result.SessionToken = creds.SessionToken
	}
	if hasDisposition {
		result.Headers = append(result.Headers, Header{"Content-Disposition", encodedDisposition})
		result.ContentDisposition = encodedDisposition
	}

	return result, nil
}

// SignQuery produces a presigned URL (spec.md §4.4, query mode).
func (s *Signer) SignQuery(creds *Credentials, opts SignOptions, qopts SignQueryOptions) (*SignResult, error) {
	if err := validateCredentials(creds); err != nil {
		return nil, err
	}
	method := strings.ToUpper(opts.Method)
	if !validMethods[method] {
		return nil, ErrInvalidMethod
	}
	bucket, key, err := resolvePath(opts.Path, creds.Bucket)
	if err != nil {
		return nil, err
	}

	region := creds.EffectiveRegion()
	if region == "" {
		return nil, ErrInvalidEndpoint
	}
	host := resolveHost(creds, region)
	scheme := resolveScheme(creds)

	expires := qopts.Expires
	if expires <= 0 {
		expires = defaultExpirySecs
	}

	now := s.now().UTC()
	amzDate := now.Format(amzDateFormat)
	dateStamp := now.Format(dateStampFormat)
	credentialScope := fmt.Sprintf("%s/%s/%s/%s", dateStamp, region, serviceName, terminationString)
	credential := creds.AccessKeyID + "/" + credentialScope

	hasACL := opts.ACL != ACLNone
	hasSessionToken := creds.SessionToken != ""
	if hasSessionToken {
		if err := validateSessionToken(creds.SessionToken); err != nil {
			return nil, err
		}
	}

	signedHeaders := "host"

	var ordered []KV
	if hasACL {
		ordered = append(ordered, KV{"X-Amz-Acl", opts.ACL.String()})
	}
	ordered = append(ordered,
		KV{"X-Amz-Algorithm", algorithm},
		KV{"X-Amz-Credential", credential},
		KV{"X-Amz-Date", amzDate},
		KV{"X-Amz-Expires", strconv.Itoa(expires)},
	)
	if hasSessionToken {
		ordered = append(ordered, KV{"X-Amz-Security-Token", creds.SessionToken})
	}
	ordered = append(ordered, KV{"X-Amz-SignedHeaders", signedHeaders})

	canonicalURI := canonicalObjectPath(bucket, key)
	searchParams := canonicalQueryString(ordered)

	contentHash := unsignedPayload
	canonicalRequest := buildCanonicalRequestQuery(method, canonicalURI, searchParams, host, contentHash)
	stringToSign := buildStringToSign(s, amzDate, credentialScope, canonicalRequest)

	signingKey, err := s.cache.get(now, dateStamp, region, serviceName, creds.SecretAccessKey)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	signature, err := s.hmacHex(signingKey[:], []byte(stringToSign))
	if err != nil {
		return nil, ErrInvalidSignature
	}
	if err := validateSignature(signature); err != nil {
		return nil, err
	}

	queryString := buildQueryString(ordered) + "&X-Amz-Signature=" + signature

	result := &SignResult{
		AmzDate: amzDate,
		Host:    host,
		URL:     fmt.Sprintf("%s://%s%s%s", scheme, host, canonicalURI, queryString),
		ACL:     opts.ACL,
	}
	if hasSessionToken {
		result.SessionToken = creds.SessionToken
	}
	return result, nil
}

func buildStringToSign(s *Signer, amzDate, credentialScope, canonicalRequest string) string {
	return strings.Join([]string{
		algorithm,
		amzDate,
		credentialScope,
		s.hashHex([]byte(canonicalRequest)),
	}, "\n")
}
