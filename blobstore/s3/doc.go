// Package s3 stores blobs in Amazon S3.
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "my-bucket", "snapshots/")
//
// Create streams through the S3 upload manager, so archives larger than one
// part are sent as multipart uploads. Aborting a write cancels the upload;
// the upload manager then removes any parts already sent.
package s3
