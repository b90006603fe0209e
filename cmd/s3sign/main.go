// Command s3sign generates signed curl commands and presigned URLs for
// S3 operations, adapted from the teacher's s3curl tool onto the
// SigV4 signer in internal/s3sign.
package main

import (
	"crypto/rand"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/ethanadams/s3client/internal/s3sign"
)

func main() {
	endpoint := flag.String("endpoint", os.Getenv("S3_ENDPOINT"), "S3 endpoint URL")
	accessKey := flag.String("access-key", os.Getenv("S3_ACCESS_KEY"), "S3 access key")
	secretKey := flag.String("secret-key", os.Getenv("S3_SECRET_KEY"), "S3 secret key")
	sessionToken := flag.String("session-token", os.Getenv("S3_SESSION_TOKEN"), "S3 session token")
	region := flag.String("region", "", "AWS region (guessed from endpoint if empty)")
	bucket := flag.String("bucket", "", "Bucket name")
	key := flag.String("key", "test-file.txt", "Object key")
	op := flag.String("op", "upload", "Operation: upload, download, delete, presign-download")
	data := flag.String("data", "Hello, world!", "Data to upload (for upload op)")
	size := flag.Int("size", 0, "Random data size in bytes (overrides -data)")
	acl := flag.String("acl", "", "Canned ACL to attach (e.g. private, public-read)")
	expires := flag.Int("expires", 0, "Presigned URL expiry in seconds (default 86400)")
	flag.Parse()

	if *endpoint == "" || *accessKey == "" || *secretKey == "" || *bucket == "" {
		fmt.Fprintln(os.Stderr, "Usage: s3sign -endpoint URL -access-key KEY -secret-key SECRET -bucket BUCKET [-op upload|download|delete|presign-download] [-key filename] [-data content]")
		fmt.Fprintln(os.Stderr, "\nEnvironment variables: S3_ENDPOINT, S3_ACCESS_KEY, S3_SECRET_KEY, S3_SESSION_TOKEN")
		fmt.Fprintln(os.Stderr, "\nExamples:")
		fmt.Fprintln(os.Stderr, "  s3sign -bucket mybucket -op upload -key test.txt -data 'Hello World'")
		fmt.Fprintln(os.Stderr, "  s3sign -bucket mybucket -op download -key test.txt")
		fmt.Fprintln(os.Stderr, "  s3sign -bucket mybucket -op presign-download -key test.txt -expires 3600")
		os.Exit(1)
	}

	creds := &s3sign.Credentials{
		AccessKeyID:     *accessKey,
		SecretAccessKey: *secretKey,
		Region:          *region,
		Endpoint:        *endpoint,
		Bucket:          *bucket,
		SessionToken:    *sessionToken,
		InsecureHTTP:    strings.HasPrefix(*endpoint, "http://"),
	}

	cannedACL := s3sign.ACLNone
	if *acl != "" {
		parsed, err := s3sign.ParseACL(*acl)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cannedACL = parsed
	}

	signer := s3sign.NewSigner()
	path := "/" + strings.TrimPrefix(*key, "/")

	var method string
	var payload []byte

	switch *op {
	case "upload":
		method = http.MethodPut
		if *size > 0 {
			payload = make([]byte, *size)
			if _, err := rand.Read(payload); err != nil {
				fmt.Fprintf(os.Stderr, "Error generating random data: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stderr, "# Generated %d bytes of random data\n", *size)
		} else {
			payload = []byte(*data)
		}
	case "download":
		method = http.MethodGet
	case "delete":
		method = http.MethodDelete
	case "presign-download":
		result, err := signer.SignQuery(creds, s3sign.SignOptions{Path: path, Method: http.MethodGet}, s3sign.SignQueryOptions{Expires: *expires})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error signing request: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(result.URL)
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown operation: %s\n", *op)
		os.Exit(1)
	}

	signed, err := signer.Sign(creds, s3sign.SignOptions{Path: path, Method: method, ACL: cannedACL})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error signing request: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("curl -v -X %s \\\n", method)
	for _, h := range signed.Headers {
		fmt.Printf("  -H '%s: %s' \\\n", h.Name, h.Value)
	}
	if payload != nil {
		fmt.Printf("  -H 'Content-Type: application/octet-stream' \\\n")
		if *size > 0 {
			fmt.Printf("  --data-binary \"$(dd if=/dev/urandom bs=%d count=1 2>/dev/null)\" \\\n", *size)
		} else {
			fmt.Printf("  --data-binary '%s' \\\n", *data)
		}
	}
	fmt.Printf("  '%s'\n", signed.URL)
}
