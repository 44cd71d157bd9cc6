package accesslogs

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// maxLineBytes caps a single access log line; CDN lines are well under
// this even with long query strings.
const maxLineBytes = 1024 * 1024

// Client is the part of the S3 API the store uses. *s3.Client
// satisfies it.
type Client interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store lists and fetches CDN access log objects from the log bucket.
type Store interface {
	// List returns the object keys under the configured prefix in
	// lexicographic order, optionally starting after a watermark key.
	List(ctx context.Context, startAfter string) ([]string, error)
	// Fetch downloads one log object and returns its lines, gunzipping
	// transparently when the key carries a .gz suffix.
	Fetch(ctx context.Context, key string) ([]string, error)
}

type logStore struct {
	client Client
	bucket string
	prefix string
}

func NewStore(client Client, bucket, prefix string) Store {
	return &logStore{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

func (s *logStore) List(ctx context.Context, startAfter string) ([]string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	}
	if startAfter != "" {
		input.StartAfter = aws.String(startAfter)
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", s.bucket, s.prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (s *logStore) Fetch(ctx context.Context, key string) ([]string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download s3://%s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()

	reader := io.Reader(out.Body)
	if strings.HasSuffix(key, ".gz") {
		zr, err := gzip.NewReader(out.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to gunzip %s: %w", key, err)
		}
		defer zr.Close()
		reader = zr
	}

	var lines []string
	sc := bufio.NewScanner(reader)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return lines, nil
}
