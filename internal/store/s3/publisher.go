// Package s3 publishes sealed bundles to an S3 bucket. Bundles can be
// published as soon as they are sealed: they reveal nothing until enough of
// their slots are released.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/google/uuid"

	"github.com/ideal-lab5/etf-cli/common/log"
	"github.com/ideal-lab5/etf-cli/etf"
)

// ContentType of published bundles.
const ContentType = "application/cbor"

// DefaultPrefix is the key prefix of published bundles.
const DefaultPrefix = "bundles/"

// Publisher uploads bundles as immutable objects.
type Publisher struct {
	upr    s3manageriface.UploaderAPI
	bucket string
	prefix string
	acl    string
	log    log.Logger
}

// NewPublisher returns a publisher using upr. acl may be empty to keep the
// bucket default.
func NewPublisher(l log.Logger, upr s3manageriface.UploaderAPI, bucket, prefix, acl string) (*Publisher, error) {
	if bucket == "" {
		return nil, errors.New("no bucket given")
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Publisher{upr: upr, bucket: bucket, prefix: prefix, acl: acl, log: l.Named("s3")}, nil
}

// NewUploader creates an uploader from the default credential chain for
// region.
func NewUploader(region string) (*s3manager.Uploader, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("creating aws session: %w", err)
	}
	return s3manager.NewUploader(sess), nil
}

// Key returns the object key a bundle id is published under.
func (p *Publisher) Key(id uuid.UUID) string {
	return p.prefix + id.String()
}

// Publish uploads the canonical encoding of b under id and returns its
// location.
func (p *Publisher) Publish(ctx context.Context, id uuid.UUID, b *etf.Bundle) (string, error) {
	buff, err := etf.Encode(b)
	if err != nil {
		return "", err
	}
	in := &s3manager.UploadInput{
		Bucket:       aws.String(p.bucket),
		Key:          aws.String(p.Key(id)),
		Body:         bytes.NewReader(buff),
		ContentType:  aws.String(ContentType),
		CacheControl: aws.String("public, max-age=604800, immutable"),
	}
	if p.acl != "" {
		in.ACL = aws.String(p.acl)
	}
	r, err := p.upr.UploadWithContext(ctx, in)
	if err != nil {
		return "", fmt.Errorf("uploading bundle %s: %w", id, err)
	}
	p.log.Infow("published bundle", "id", id, "location", r.Location)
	return r.Location, nil
}
