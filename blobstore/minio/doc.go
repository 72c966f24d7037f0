// Package minio stores blobs with the MinIO client, for MinIO and other
// S3-compatible services such as Ceph, Garage or SeaweedFS.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	store := minioblob.NewStore(client, "jsonindex", "snapshots/")
package minio
