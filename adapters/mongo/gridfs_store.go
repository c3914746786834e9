package mongo

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/satriahrh/narrasi/domain/entities"
	"github.com/satriahrh/narrasi/domain/repositories"
)

const defaultBucketName = "audio"

// GridFSStore implements ObjectStorage on a GridFS bucket. Paths are
// stored as file names and an upload replaces every earlier revision.
type GridFSStore struct {
	db         *mongo.Database
	bucketName string
	baseURL    string
	logger     *zap.Logger
}

// Ensure GridFSStore implements the ObjectStorage interface
var _ repositories.ObjectStorage = (*GridFSStore)(nil)

// NewGridFSStore creates a store on the named bucket. Public URLs are
// baseURL joined with the path.
func NewGridFSStore(db *mongo.Database, bucketName, baseURL string, logger *zap.Logger) *GridFSStore {
	if bucketName == "" {
		bucketName = defaultBucketName
		logger.Info("Using default GridFS bucket", zap.String("bucket", bucketName))
	}
	return &GridFSStore{
		db:         db,
		bucketName: bucketName,
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
	}
}

// bucket returns a bucket bound to the deadline of ctx. Buckets carry
// their deadlines as state, so each call gets its own.
func (s *GridFSStore) bucket(ctx context.Context) (*gridfs.Bucket, error) {
	b, err := gridfs.NewBucket(s.db, options.GridFSBucket().SetName(s.bucketName))
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		b.SetReadDeadline(deadline)
		b.SetWriteDeadline(deadline)
	}
	return b, nil
}

// Upload implements repositories.ObjectStorage
func (s *GridFSStore) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	b, err := s.bucket(ctx)
	if err != nil {
		return &entities.StorageError{Op: "upload", Path: path, Err: err}
	}
	if err := s.deleteAll(ctx, b, path); err != nil {
		return &entities.StorageError{Op: "upload", Path: path, Err: err}
	}

	opts := options.GridFSUpload().SetMetadata(bson.M{
		"contentType": contentType,
		"uploadedAt":  time.Now(),
	})
	if _, err := b.UploadFromStream(path, bytes.NewReader(data), opts); err != nil {
		return &entities.StorageError{Op: "upload", Path: path, Err: err}
	}

	s.logger.Debug("Uploaded object", zap.String("path", path), zap.Int("size", len(data)))
	return nil
}

func (s *GridFSStore) deleteAll(ctx context.Context, b *gridfs.Bucket, path string) error {
	cursor, err := b.FindContext(ctx, bson.M{"filename": path})
	if err != nil {
		return err
	}
	var files []struct {
		ID interface{} `bson:"_id"`
	}
	if err := cursor.All(ctx, &files); err != nil {
		return err
	}
	for _, f := range files {
		if err := b.DeleteContext(ctx, f.ID); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
			return err
		}
	}
	return nil
}

// Download implements repositories.ObjectStorage
func (s *GridFSStore) Download(ctx context.Context, path string) ([]byte, error) {
	b, err := s.bucket(ctx)
	if err != nil {
		return nil, &entities.StorageError{Op: "download", Path: path, Err: err}
	}
	var buf bytes.Buffer
	if _, err := b.DownloadToStreamByName(path, &buf); err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			err = entities.ErrNotFound
		}
		return nil, &entities.StorageError{Op: "download", Path: path, Err: err}
	}
	return buf.Bytes(), nil
}

// PublicURL implements repositories.ObjectStorage
func (s *GridFSStore) PublicURL(path string) string {
	return s.baseURL + "/" + strings.TrimLeft(path, "/")
}
