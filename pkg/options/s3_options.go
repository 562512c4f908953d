package options

import (
	"errors"
	"strings"

	"github.com/spf13/pflag"
)

var _ IOptions = (*S3Options)(nil)

// S3Options holds the connection settings for an S3-compatible object store.
type S3Options struct {
	Endpoint        string `json:"endpoint" mapstructure:"endpoint"`
	AccessKeyID     string `json:"access-key-id" mapstructure:"access-key-id"`
	SecretAccessKey string `json:"secret-access-key" mapstructure:"secret-access-key"`
	UseSSL          bool   `json:"use-ssl" mapstructure:"use-ssl"`
	BucketName      string `json:"bucket-name" mapstructure:"bucket-name"`
	Region          string `json:"region" mapstructure:"region"`

	// Prefix is prepended to every object key, without leading or trailing slashes.
	Prefix string `json:"prefix" mapstructure:"prefix"`

	// InsecureSkipVerify accepts self-signed certificates. Testing only.
	InsecureSkipVerify bool `json:"insecure-skip-verify" mapstructure:"insecure-skip-verify"`
}

func NewS3Options() *S3Options {
	return &S3Options{
		Endpoint: "s3.amazonaws.com",
		UseSSL:   true,
		Region:   "us-east-1",
	}
}

// Validate only checks values that are wrong regardless of the upload mode.
// Use ValidateRequired when the S3 backend is selected.
func (o *S3Options) Validate() []error {
	errs := []error{}

	if strings.Contains(o.Endpoint, "://") {
		errs = append(errs, errors.New("--s3.endpoint must be host[:port] without a scheme"))
	}

	return errs
}

// ValidateRequired checks the fields needed to actually talk to a bucket.
func (o *S3Options) ValidateRequired() []error {
	errs := o.Validate()

	if o.Endpoint == "" {
		errs = append(errs, errors.New("--s3.endpoint is required"))
	}
	if o.BucketName == "" {
		errs = append(errs, errors.New("--s3.bucket-name is required"))
	}

	return errs
}

// CleanPrefix returns Prefix without surrounding slashes.
func (o *S3Options) CleanPrefix() string {
	return strings.Trim(o.Prefix, "/")
}

func (o *S3Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Endpoint, "s3.endpoint", o.Endpoint, "S3 service endpoint (e.g. s3.amazonaws.com or minio.local:9000)")
	fs.StringVar(&o.AccessKeyID, "s3.access-key-id", o.AccessKeyID, "S3 access key ID")
	fs.StringVar(&o.SecretAccessKey, "s3.secret-access-key", o.SecretAccessKey, "S3 secret access key")
	fs.BoolVar(&o.UseSSL, "s3.use-ssl", o.UseSSL, "Enable SSL for S3 connection")
	fs.StringVar(&o.BucketName, "s3.bucket-name", o.BucketName, "S3 bucket that receives uploaded video segments")
	fs.StringVar(&o.Region, "s3.region", o.Region, "S3 region")
	fs.StringVar(&o.Prefix, "s3.prefix", o.Prefix, "Key prefix for uploaded objects (e.g. games)")
	fs.BoolVar(&o.InsecureSkipVerify, "s3.insecure-skip-verify", o.InsecureSkipVerify, "Skip TLS certificate verification for the S3 endpoint")
}
