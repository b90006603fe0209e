package s3sign

// Credentials is an immutable bundle of everything the signer needs to
// authorize requests against a single S3-compatible endpoint. It is
// shared by reference across concurrent operations; its lifetime is
// the lifetime of its longest holder (the caller owns it, no refcount
// is needed in Go).
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string
	Bucket          string
	SessionToken    string
	InsecureHTTP    bool
}

// EffectiveRegion returns the configured region, or a guess derived
// from the endpoint per spec.md §4.2 when none is configured.
func (c *Credentials) EffectiveRegion() string {
	if c.Region != "" {
		return c.Region
	}
	return guessRegion(c.Endpoint)
}

// ACL is a closed enum of the canned ACL wire strings S3 accepts.
type ACL int

const (
	ACLNone ACL = iota
	ACLPrivate
	ACLPublicRead
	ACLPublicReadWrite
	ACLAwsExecRead
	ACLAuthenticatedRead
	ACLBucketOwnerRead
	ACLBucketOwnerFullControl
	ACLLogDeliveryWrite
)

var aclWireStrings = map[ACL]string{
	ACLPrivate:                "private",
	ACLPublicRead:             "public-read",
	ACLPublicReadWrite:        "public-read-write",
	ACLAwsExecRead:            "aws-exec-read",
	ACLAuthenticatedRead:      "authenticated-read",
	ACLBucketOwnerRead:        "bucket-owner-read",
	ACLBucketOwnerFullControl: "bucket-owner-full-control",
	ACLLogDeliveryWrite:       "log-delivery-write",
}

// String returns the canned-ACL wire string, or "" for ACLNone.
func (a ACL) String() string {
	return aclWireStrings[a]
}

// valid reports whether a is ACLNone or one of the eight canned ACLs.
func (a ACL) valid() bool {
	if a == ACLNone {
		return true
	}
	_, ok := aclWireStrings[a]
	return ok
}

// ParseACL converts a canned ACL wire string (as read from config)
// into its ACL value. An empty string is not accepted here; callers
// should check for "" themselves and use ACLNone directly.
func ParseACL(s string) (ACL, error) {
	for acl, wire := range aclWireStrings {
		if wire == s {
			return acl, nil
		}
	}
	return ACLNone, &unknownACLError{s}
}

type unknownACLError struct{ s string }

func (e *unknownACLError) Error() string {
	return "s3sign: unknown canned ACL " + e.s
}
