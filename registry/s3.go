package registry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/avolkens/device-dispatch-backend/interfaces"
)

// S3Registry reads device public keys from Amazon S3 or a compatible
// object store. Each device is one object:
//
//	<prefix>/<device-id>/public.pem
//
// This backend is public-half only: it serves fleets that mirror their
// public keys into a bucket for dispatch while private halves stay in
// Vault or on disk. KeyPair therefore always returns a partial pair.
type S3Registry struct {
	client     *s3.S3
	bucketName string
	prefix     string
	log        *slog.Logger
}

// NewS3Registry creates an S3-backed public key registry. Credentials
// are optional; public buckets work without them.
func NewS3Registry(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Registry, error) {
	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Registry{
		client:     s3.New(sess),
		bucketName: bucketName,
		prefix:     strings.TrimSuffix(prefix, "/"),
		log:        log,
	}, nil
}

func (r *S3Registry) objectKey(deviceID interfaces.DeviceID) string {
	if r.prefix == "" {
		return path.Join(deviceID.String(), "public.pem")
	}
	return path.Join(r.prefix, deviceID.String(), "public.pem")
}

// PublicKey fetches the device's public key object.
func (r *S3Registry) PublicKey(ctx context.Context, deviceID interfaces.DeviceID) (interfaces.DevicePubkey, error) {
	start := time.Now()
	key := r.objectKey(deviceID)

	result, err := r.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "404") {
			r.log.Debug("Device key not found in S3",
				slog.String("device", deviceID.String()),
				slog.String("bucket", r.bucketName),
				slog.String("key", key))
			return nil, interfaces.ErrDeviceNotFound
		}
		r.log.Error("Failed to get object from S3",
			slog.String("device", deviceID.String()),
			slog.String("bucket", r.bucketName),
			slog.String("key", key),
			"err", err)
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}

	r.log.Debug("Fetched device key from S3",
		slog.String("device", deviceID.String()),
		slog.String("bucket", r.bucketName),
		slog.Duration("duration", time.Since(start)))

	return interfaces.DevicePubkey(data), nil
}

// KeyPair returns a public-only pair. Liveness verification needs the
// private half and must be served by a complete registry backend.
func (r *S3Registry) KeyPair(ctx context.Context, deviceID interfaces.DeviceID) (interfaces.KeyPair, error) {
	public, err := r.PublicKey(ctx, deviceID)
	if err != nil {
		return interfaces.KeyPair{}, err
	}
	return interfaces.KeyPair{Public: public}, nil
}

// Available checks if the bucket is reachable.
func (r *S3Registry) Available(ctx context.Context) bool {
	_, err := r.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(r.bucketName),
	})
	if err != nil {
		r.log.Warn("S3 registry unavailable",
			slog.String("bucket", r.bucketName),
			"err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this registry backend.
func (r *S3Registry) Name() string {
	return fmt.Sprintf("s3-%s", r.bucketName)
}
