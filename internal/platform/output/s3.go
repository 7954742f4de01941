package output

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ehr/ipsgen/internal/ips/batch"
	"github.com/ehr/ipsgen/internal/platform/render"
)

// S3Config selects the bucket. Endpoint and PathStyle target MinIO and other
// S3-compatible stores; credentials come from the default AWS chain.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool
	Prefix    string
	Minify    bool
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads each Bundle as <prefix>/<patient>_<record>.json, plus a .pdf
// when a renderer is set.
type S3Sink struct {
	client objectPutter
	cfg    S3Config
	pdf    *render.PDFRenderer
}

// NewS3Sink builds an S3 client from the default AWS configuration.
func NewS3Sink(ctx context.Context, cfg S3Config, pdf *render.PDFRenderer) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3Sink{client: client, cfg: cfg, pdf: pdf}, nil
}

func (s *S3Sink) Name() string { return "s3" }

func (s *S3Sink) key(rec batch.Record, ext string) string {
	return path.Join(s.cfg.Prefix, rec.FileName()+ext)
}

func (s *S3Sink) Write(ctx context.Context, rec batch.Record) error {
	data, err := rec.Bundle.Marshal(s.cfg.Minify)
	if err != nil {
		return fmt.Errorf("marshal bundle: %w", err)
	}
	if err := s.put(ctx, s.key(rec, ".json"), ContentTypeFHIR, data, rec); err != nil {
		return err
	}

	if s.pdf == nil {
		return nil
	}
	var buf bytes.Buffer
	if err := s.pdf.Render(&buf, rec.Bundle); err != nil {
		return err
	}
	return s.put(ctx, s.key(rec, ".pdf"), "application/pdf", buf.Bytes(), rec)
}

func (s *S3Sink) put(ctx context.Context, key, contentType string, body []byte, rec batch.Record) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"bundle-id":     rec.Bundle.ID,
			"patient-index": fmt.Sprint(rec.PatientIndex),
			"record-index":  fmt.Sprint(rec.RecordIndex),
		},
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.cfg.Bucket, key, err)
	}
	return nil
}

func (s *S3Sink) Close() error { return nil }
