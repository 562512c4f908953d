// Package core holds the types shared by the upload agent's components.
package core

import (
	"fmt"
	"strings"

	"github.com/autopeer-io/videoupload/pkg/options"
)

// Mode selects where saved segments go.
type Mode string

const (
	// ModeViamCloud leaves files in place for an external sync agent.
	ModeViamCloud Mode = "viam-cloud"
	// ModeGCPProject uploads to a Google Cloud Storage bucket.
	ModeGCPProject Mode = "gcp-project"
	// ModeS3 uploads to an S3-compatible bucket.
	ModeS3 Mode = "s3"
)

// Modes lists every accepted Mode.
var Modes = []Mode{ModeViamCloud, ModeGCPProject, ModeS3}

// ParseMode validates s.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown upload mode %q", s)
}

// Target is where a cycle sends its output. It is either SaveOnly or Remote.
type Target interface {
	Mode() Mode
	isTarget()
}

// SaveOnly issues the save command and nothing else.
type SaveOnly struct{}

func (SaveOnly) Mode() Mode { return ModeViamCloud }
func (SaveOnly) isTarget()  {}

// Remote uploads files found under LocalPath to Bucket/Prefix.
type Remote struct {
	Backend   Mode
	LocalPath string
	Bucket    string
	Prefix    string

	// CredentialsFile is the service-account key for ModeGCPProject.
	CredentialsFile string

	// S3 holds the connection settings for ModeS3.
	S3 *options.S3Options
}

func (r Remote) Mode() Mode { return r.Backend }
func (Remote) isTarget()    {}

// SplitBucketPath splits "bucket/optional/prefix" into its bucket and prefix.
func SplitBucketPath(p string) (bucket, prefix string, err error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return "", "", fmt.Errorf("bucket path is empty")
	}
	bucket, prefix, _ = strings.Cut(p, "/")
	return bucket, strings.Trim(prefix, "/"), nil
}
