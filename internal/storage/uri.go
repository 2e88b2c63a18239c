package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

const uriScheme = "s3://"

var bucketPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

type URI struct {
	Bucket string
	Key    string
}

func (u URI) String() string {
	return uriScheme + u.Bucket + "/" + u.Key
}

// IsURI reports whether raw names an object rather than a local path.
func IsURI(raw string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(raw)), uriScheme)
}

// ParseURI splits s3://bucket/key into its parts.
func ParseURI(raw string) (URI, error) {
	raw = strings.TrimSpace(raw)
	if !IsURI(raw) {
		return URI{}, fmt.Errorf("not an object uri: %q", raw)
	}
	rest := raw[len(uriScheme):]
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || key == "" {
		return URI{}, fmt.Errorf("object uri %q has no key", raw)
	}
	if !bucketPattern.MatchString(bucket) {
		return URI{}, fmt.Errorf("invalid bucket name %q", bucket)
	}
	cleaned := path.Clean(strings.TrimPrefix(key, "/"))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return URI{}, fmt.Errorf("invalid object key %q", key)
	}
	return URI{Bucket: bucket, Key: cleaned}, nil
}
