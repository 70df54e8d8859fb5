package report

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// S3API is the subset of the S3 client the exporter uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ExporterConfig configures where exports land.
type ExporterConfig struct {
	Bucket   string
	Prefix   string
	Region   string
	Compress bool // gzip the object and set Content-Encoding
}

// Exporter uploads CSV send logs to S3.
type Exporter struct {
	client S3API
	cfg    ExporterConfig
	now    func() time.Time
	log    *logger.Logger
}

// NewS3Exporter builds an exporter using the default AWS credential chain.
func NewS3Exporter(ctx context.Context, cfg ExporterConfig) (*Exporter, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewExporter(s3.NewFromConfig(awsCfg), cfg), nil
}

// NewExporter builds an exporter around an existing client.
func NewExporter(client S3API, cfg ExporterConfig) *Exporter {
	return &Exporter{
		client: client,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		log:    logger.With("component", "report.Exporter"),
	}
}

// Key returns the object key for an export taken at t.
func (e *Exporter) Key(orgID, campaignID string, t time.Time) string {
	name := t.UTC().Format("20060102T150405Z") + ".csv"
	if e.cfg.Compress {
		name += ".gz"
	}
	return path.Join(e.cfg.Prefix, orgID, campaignID, name)
}

// Export writes rows as CSV to S3 and returns the object key.
func (e *Exporter) Export(ctx context.Context, orgID, campaignID string, rows []SendLogRow) (string, error) {
	var buf bytes.Buffer
	if e.cfg.Compress {
		zw := gzip.NewWriter(&buf)
		if err := WriteCSV(zw, rows); err != nil {
			return "", err
		}
		if err := zw.Close(); err != nil {
			return "", fmt.Errorf("compress export: %w", err)
		}
	} else if err := WriteCSV(&buf, rows); err != nil {
		return "", err
	}

	key := e.Key(orgID, campaignID, e.now())
	in := &s3.PutObjectInput{
		Bucket:      aws.String(e.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("text/csv"),
	}
	if e.cfg.Compress {
		in.ContentEncoding = aws.String("gzip")
	}
	if _, err := e.client.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("upload export: %w", err)
	}
	e.log.Info("send log exported", "campaign_id", campaignID, "rows", len(rows), "key", key)
	return key, nil
}
