package emit

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/gustycube/balkansim/internal/types"
)

// WriterSink encodes each batch as one JSON line.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink { return &WriterSink{w: w} }

func (s *WriterSink) Name() string { return "stdout" }

func (s *WriterSink) Send(_ context.Context, b types.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.NewEncoder(s.w).Encode(b)
}

// HTTPSink posts batches to an ingest endpoint, retrying with exponential
// backoff.
type HTTPSink struct {
	url        string
	client     *http.Client
	maxElapsed time.Duration
}

// NewHTTPSink builds a sink for url. A client certificate and CA bundle enable
// mutual TLS.
func NewHTTPSink(url, mtlsCert, mtlsKey, mtlsCA string) (*HTTPSink, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if mtlsCert != "" && mtlsKey != "" {
		cert, err := tls.LoadX509KeyPair(mtlsCert, mtlsKey)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	if mtlsCA != "" {
		pem, err := os.ReadFile(mtlsCA)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", mtlsCA)
		}
		tlsCfg.RootCAs = pool
	}
	return &HTTPSink{
		url:        url,
		client:     &http.Client{Transport: &http.Transport{TLSClientConfig: tlsCfg}, Timeout: 20 * time.Second},
		maxElapsed: 30 * time.Second,
	}, nil
}

func (s *HTTPSink) Name() string { return "http" }

func (s *HTTPSink) Send(ctx context.Context, b types.Batch) error {
	body, err := json.Marshal(b)
	if err != nil {
		return err
	}
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(fmt.Errorf("bad status: %d", resp.StatusCode))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("bad status: %d", resp.StatusCode)
		}
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = s.maxElapsed
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

// RedisSink appends every batch to a Redis list so live dashboards can tail a run.
type RedisSink struct {
	cli *redis.Client
	key string
}

// NewRedisSink connects to addr and fails fast if the server is unreachable.
func NewRedisSink(ctx context.Context, addr, key string) (*RedisSink, error) {
	cli := redis.NewClient(&redis.Options{Addr: addr})
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisSink{cli: cli, key: key}, nil
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Send(ctx context.Context, b types.Batch) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return s.cli.RPush(ctx, s.key, data).Err()
}

// Ping reports whether the server is reachable.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.cli.Ping(ctx).Err()
}

func (s *RedisSink) Close() error { return s.cli.Close() }
