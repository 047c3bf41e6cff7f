// Package media handles file uploads, S3 storage operations, image thumbnail
// generation, and media transcoding dispatch. It uses minio-go as a generic S3
// client compatible with Garage, MinIO, AWS S3, and other S3-compatible backends.
// This package will be fully implemented in Phase 2.
package media
