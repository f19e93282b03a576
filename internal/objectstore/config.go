package objectstore

import "time"

// Config configures the object-store client. It has none of the
// teacher's storage-tier and cost-optimization fields — uploads are
// write-once, read-back-immediately-via-presigned-URL, so there is no
// tiering decision to make. ConnectTimeout and RequestTimeout are
// carried here but not read by Client.
type Config struct {
	Bucket         string
	Region         string
	Endpoint       string
	ForcePathStyle bool

	MaxRetries     int
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	PoolSize       int

	MultipartThreshold   int64
	MultipartChunkSize   int64
	MultipartConcurrency int

	// EnableCargoShipOptimization turns on the high-throughput transfer
	// path for uploads at or above MultipartThreshold; failures fall
	// back to the plain multipart uploader rather than failing the
	// upload outright.
	EnableCargoShipOptimization bool
}

// DefaultConfig returns the object-store defaults: 100 MiB multipart
// threshold, 8 MiB chunks, matching the teacher's S3 backend defaults.
func DefaultConfig(bucket, region string) *Config {
	return &Config{
		Bucket:               bucket,
		Region:               region,
		MaxRetries:           3,
		ConnectTimeout:       10 * time.Second,
		RequestTimeout:       30 * time.Second,
		PoolSize:             8,
		MultipartThreshold:   100 * 1024 * 1024,
		MultipartChunkSize:   8 * 1024 * 1024,
		MultipartConcurrency: 4,
		EnableCargoShipOptimization: true,
	}
}
