package s3client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
)

// Local is an in-memory S3 server on a loopback port, used when no real
// object store is configured.
type Local struct {
	Client *Client
	server *http.Server
	URL    string
}

// StartLocal serves a gofakes3 bucket on 127.0.0.1 and returns a client for
// it. Objects are lost on Close.
func StartLocal(ctx context.Context, bucketName string) (*Local, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("s3client: listen: %w", err)
	}
	faker := gofakes3.New(s3mem.New())
	srv := &http.Server{Handler: faker.Server(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = ln.Close()
		}
	}()

	endpoint := "http://" + ln.Addr().String()
	client, err := New(ctx, Config{
		Endpoint:        endpoint,
		Region:          "us-east-1",
		AccessKeyID:     "local",
		SecretAccessKey: "local",
		BucketName:      bucketName,
		UsePathStyle:    true,
	})
	if err != nil {
		_ = srv.Close()
		return nil, err
	}
	if err := client.EnsureBucket(ctx); err != nil {
		_ = srv.Close()
		return nil, err
	}
	return &Local{Client: client, server: srv, URL: endpoint}, nil
}

// Close stops the server.
func (l *Local) Close() error {
	return l.server.Close()
}
