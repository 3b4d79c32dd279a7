package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	defaultFlushInterval = time.Minute
	defaultMaxBatch      = 500
	// pending bytes kept across failed uploads before events are dropped
	maxPendingBytes = 8 << 20
)

type S3Config struct {
	Bucket        string
	KeyPrefix     string
	FlushInterval time.Duration
	MaxBatch      int
}

// S3Sink batches events as JSON lines and uploads each batch as one object
// under <prefix>/<yyyy>/<mm>/<dd>/<uuid>.jsonl.
type S3Sink struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
	maxBatch int
	interval time.Duration
	logger   logrus.FieldLogger
	now      func() time.Time

	mu      sync.Mutex
	buf     bytes.Buffer
	pending int

	kick      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewS3Sink(client manager.UploadAPIClient, cfg S3Config, logger logrus.FieldLogger) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("audit bucket is required")
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	s := &S3Sink{
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		prefix:   cfg.KeyPrefix,
		maxBatch: cfg.MaxBatch,
		interval: cfg.FlushInterval,
		logger:   logger,
		now:      time.Now,
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.loop()
	return s, nil
}

func (s *S3Sink) Record(_ context.Context, e Event) {
	line, err := json.Marshal(e)
	if err != nil {
		s.logger.WithError(err).Warn("audit: marshal event")
		return
	}

	s.mu.Lock()
	if s.buf.Len()+len(line)+1 > maxPendingBytes {
		s.mu.Unlock()
		s.logger.Warn("audit: pending buffer full, dropping event")
		return
	}
	s.buf.Write(line)
	s.buf.WriteByte('\n')
	s.pending++
	full := s.pending >= s.maxBatch
	s.mu.Unlock()

	if full {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
}

// Flush uploads everything recorded so far as a single object.
func (s *S3Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.pending == 0 {
		s.mu.Unlock()
		return nil
	}
	data := append([]byte(nil), s.buf.Bytes()...)
	count := s.pending
	s.buf.Reset()
	s.pending = 0
	s.mu.Unlock()

	key := s.objectKey()
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		s.requeue(data, count)
		return fmt.Errorf("upload audit batch %s: %w", key, err)
	}
	return nil
}

// Close stops the background flusher and uploads what is left.
func (s *S3Sink) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
	return s.Flush(ctx)
}

func (s *S3Sink) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		case <-s.kick:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := s.Flush(ctx); err != nil {
			s.logger.WithError(err).Warn("audit: flush failed")
		}
		cancel()
	}
}

// requeue puts a failed batch back in front of newer events.
func (s *S3Sink) requeue(data []byte, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(data)+s.buf.Len() > maxPendingBytes {
		s.logger.WithField("events", count).Warn("audit: dropping batch after failed upload")
		return
	}
	rest := append([]byte(nil), s.buf.Bytes()...)
	s.buf.Reset()
	s.buf.Write(data)
	s.buf.Write(rest)
	s.pending += count
}

func (s *S3Sink) objectKey() string {
	day := s.now().UTC().Format("2006/01/02")
	return path.Join(s.prefix, day, uuid.NewString()+".jsonl")
}
