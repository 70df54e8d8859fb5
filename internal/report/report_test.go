package report

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sentAt   = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	openedAt = sentAt.Add(5 * time.Minute)
	testRows = []SendLogRow{
		{SendID: "s1", LeadID: "l1", ContactID: "c1", Email: "a@example.com", Variant: "A", Status: StatusSent, SentAt: &sentAt, OpenedAt: &openedAt, Clicks: 2},
		{SendID: "s2", LeadID: "l2", ContactID: "c2", Email: "b@example.com", Variant: "B", Status: StatusFailed, FailedAt: &sentAt, LastError: "mailbox full, retry later"},
	}
)

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, testRows))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, SendLogHeader, records[0])
	assert.Equal(t, "2026-06-01T09:00:00Z", records[1][6])
	assert.Equal(t, "2", records[1][11])
	assert.Equal(t, "", records[2][6])
	assert.Equal(t, "mailbox full, retry later", records[2][8])
}

type fakeS3 struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.in = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestExporter(t *testing.T) {
	client := &fakeS3{}
	e := NewExporter(client, ExporterConfig{Bucket: "reports", Prefix: "exports"})
	e.now = func() time.Time { return sentAt }

	key, err := e.Export(context.Background(), "org-1", "camp-1", testRows)
	require.NoError(t, err)
	assert.Equal(t, "exports/org-1/camp-1/20260601T090000Z.csv", key)
	assert.Equal(t, "reports", *client.in.Bucket)
	assert.Equal(t, "text/csv", *client.in.ContentType)
	assert.Nil(t, client.in.ContentEncoding)
	assert.True(t, strings.HasPrefix(string(client.body), "send_id,lead_id"))
}

func TestExporterCompressed(t *testing.T) {
	client := &fakeS3{}
	e := NewExporter(client, ExporterConfig{Bucket: "reports", Compress: true})
	e.now = func() time.Time { return sentAt }

	key, err := e.Export(context.Background(), "org-1", "camp-1", testRows)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(key, ".csv.gz"))
	assert.Equal(t, "gzip", *client.in.ContentEncoding)

	zr, err := gzip.NewReader(bytes.NewReader(client.body))
	require.NoError(t, err)
	records, err := csv.NewReader(zr).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestExporterUploadError(t *testing.T) {
	e := NewExporter(&fakeS3{err: errors.New("access denied")}, ExporterConfig{Bucket: "reports"})
	_, err := e.Export(context.Background(), "org-1", "camp-1", testRows)
	assert.ErrorContains(t, err, "access denied")
}

type stubRepo struct{ sum Summary }

func (s stubRepo) SendLog(context.Context, string, string) ([]SendLogRow, error) { return nil, nil }
func (s stubRepo) LinkClicks(context.Context, string, string) ([]LinkStats, error) {
	return nil, nil
}
func (s stubRepo) Failures(context.Context, string, string) ([]Failure, error) { return nil, nil }
func (s stubRepo) Summary(context.Context, string, string) (*Summary, error) {
	sum := s.sum
	return &sum, nil
}

func TestSummaryRates(t *testing.T) {
	svc := NewService(stubRepo{sum: Summary{Total: 10, Sent: 8, Failed: 1, UniqueOpens: 4, UniqueClicks: 2, Clicks: 5}})
	sum, err := svc.Summary(context.Background(), "org-1", "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Pending)
	assert.Equal(t, 0.5, sum.OpenRate)
	assert.Equal(t, 0.25, sum.ClickRate)

	svc = NewService(stubRepo{sum: Summary{Total: 3}})
	sum, err = svc.Summary(context.Background(), "org-1", "camp-1")
	require.NoError(t, err)
	assert.Zero(t, sum.OpenRate)
	assert.Equal(t, 3, sum.Pending)
}
