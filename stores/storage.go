package stores

import (
	"context"
	"errors"
	"fmt"

	"github.com/Abdull600/study-circle-voice/config"
	"github.com/Abdull600/study-circle-voice/core"
	"github.com/Abdull600/study-circle-voice/feed"
	"github.com/Abdull600/study-circle-voice/stores/aws"
	"github.com/Abdull600/study-circle-voice/stores/filesystem"
	"github.com/Abdull600/study-circle-voice/stores/memory"
	"github.com/Abdull600/study-circle-voice/stores/postgres"
	"github.com/Abdull600/study-circle-voice/stores/sqlite"
	"github.com/sirupsen/logrus"
)

// Stores bundles the room backend, its change feed hub and the blob store.
type Stores struct {
	Rooms core.RoomBackend
	Blobs core.BlobStore
	Hub   *feed.Hub
	// Listener is set for postgres and must be run for the change feed to
	// carry writes from other processes.
	Listener *postgres.Listener

	closers []func() error
}

func GetStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	s := &Stores{Hub: feed.NewHub(cfg.FeedBufferSize)}

	if err := s.openRooms(ctx, cfg); err != nil {
		return nil, err
	}
	if err := s.openBlobs(ctx, cfg); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Stores) openRooms(ctx context.Context, cfg *config.Config) error {
	storageField := logrus.Fields{
		"storageType": cfg.Storage.Type,
	}

	switch cfg.Storage.Type {
	case "sqlite":
		storageField["dataSourceName"] = cfg.Storage.DataSourceName
		storageField["cgo"] = sqlite.CGOEnabled
		store, err := sqlite.NewRoomStore(cfg.Storage.DataSourceName, s.Hub)
		if err != nil {
			return err
		}
		s.Rooms = store
		s.closers = append(s.closers, store.Close)
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.Storage.PostgresURL)
		if err != nil {
			return err
		}
		s.Rooms = postgres.NewRoomStore(db, s.Hub)
		s.Listener = postgres.NewListener(cfg.Storage.PostgresURL, s.Hub)
		s.closers = append(s.closers, db.Close)
	case "memory", "":
		s.Rooms = memory.NewRoomStore(s.Hub)
		storageField["storageType"] = "in-memory"
	default:
		return fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}

	logrus.WithFields(storageField).Info("Use room storage")
	return nil
}

func (s *Stores) openBlobs(ctx context.Context, cfg *config.Config) error {
	storageField := logrus.Fields{
		"blobStorageType": cfg.Blobs.Type,
	}

	switch cfg.Blobs.Type {
	case "filesystem":
		storageField["basePath"] = cfg.Blobs.LocalStoragePath
		store, err := filesystem.NewBlobStore(cfg.Blobs.LocalStoragePath, cfg.BlobBaseURL())
		if err != nil {
			return err
		}
		s.Blobs = store
	case "s3":
		storageField["bucketName"] = cfg.Blobs.S3BucketName
		store, err := aws.NewBlobStore(ctx, cfg.Blobs.S3BucketName, cfg.Blobs.S3PublicBaseURL)
		if err != nil {
			return err
		}
		s.Blobs = store
	case "memory", "":
		s.Blobs = memory.NewBlobStore(cfg.BlobBaseURL())
		storageField["blobStorageType"] = "in-memory"
	default:
		return fmt.Errorf("unknown blob storage type %q", cfg.Blobs.Type)
	}

	logrus.WithFields(storageField).Info("Use blob storage")
	return nil
}

// Opener returns the blob store as a core.BlobOpener when this service serves
// the blobs itself.
func (s *Stores) Opener() (core.BlobOpener, bool) {
	opener, ok := s.Blobs.(core.BlobOpener)
	return opener, ok
}

func (s *Stores) Close() error {
	var errs []error
	for _, closeFn := range s.closers {
		errs = append(errs, closeFn())
	}
	return errors.Join(errs...)
}
