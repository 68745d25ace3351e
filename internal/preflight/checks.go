package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sys/unix"

	"galley/internal/config"
	"galley/internal/render"
)

const checkTimeout = 5 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckStorage verifies the object store settings. The local backend must
// have an accessible root; S3 only needs a bucket name up front.
func CheckStorage(cfg config.Storage) Result {
	const name = "Object storage"
	switch cfg.Backend {
	case config.StorageLocal:
		return CheckDirectoryAccess(name, cfg.LocalRoot)
	case config.StorageS3:
		if cfg.S3Bucket == "" {
			return Result{Name: name, Detail: "s3 bucket missing"}
		}
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("s3://%s (%s)", cfg.S3Bucket, cfg.S3Region)}
	default:
		return Result{Name: name, Detail: fmt.Sprintf("unknown backend %q", cfg.Backend)}
	}
}

// CheckRenderEndpoint verifies that a rendering endpoint answers.
func CheckRenderEndpoint(ctx context.Context, ep config.RenderEndpoint) Result {
	name := "Render endpoint " + ep.Name
	if strings.TrimSpace(ep.URL) == "" {
		return Result{Name: name, Detail: "missing url"}
	}
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	client := render.NewClient(ep.Name, ep.URL, render.WithTimeout(checkTimeout))
	if err := client.Ping(checkCtx); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s unreachable (%v)", ep.URL, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (reachable)", ep.URL)}
}

// CheckBroker opens and closes an AMQP connection to verify the transform
// queues are reachable.
func CheckBroker(ctx context.Context, amqpURL string) Result {
	const name = "Transform broker"
	if strings.TrimSpace(amqpURL) == "" {
		return Result{Name: name, Detail: "amqp url missing"}
	}
	display := redactURL(amqpURL)

	dialer := &net.Dialer{Timeout: checkTimeout}
	conn, err := amqp.DialConfig(amqpURL, amqp.Config{
		Dial: func(network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
	})
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s unreachable (%s)", display, summarizeBrokerError(err))}
	}
	_ = conn.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (reachable)", display)}
}

func summarizeBrokerError(err error) string {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		return fmt.Sprintf("%d %s", amqpErr.Code, amqpErr.Reason)
	}
	return err.Error()
}

// redactURL drops credentials before a URL is printed.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid url"
	}
	u.User = nil
	return u.String()
}
