package utils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gosimple/slug"
)

// SaveStore moves save archives between the per-user saves directory and the
// per-slot directories the game servers read from. When an archive client is
// configured, finished saves are also mirrored to object storage best-effort.
type SaveStore struct {
	SavesDir    string
	FLESavesDir string

	archive *s3.Client
	bucket  string
}

func NewSaveStore(savesDir, fleSavesDir string) *SaveStore {
	return &SaveStore{SavesDir: savesDir, FLESavesDir: fleSavesDir}
}

// EnableArchive turns on best-effort mirroring of saves to object storage.
func (s *SaveStore) EnableArchive(client *s3.Client, bucket string) {
	s.archive = client
	s.bucket = bucket
}

// SavePath returns the on-disk location for a user's named save. The save
// name is sanitized before it touches the filesystem; the DB keeps the
// original name.
func (s *SaveStore) SavePath(username, saveName string) string {
	return filepath.Join(s.SavesDir, username, slug.Make(saveName)+".zip")
}

// Exists reports whether the save file is present on disk.
func (s *SaveStore) Exists(username, saveName string) bool {
	_, err := os.Stat(s.SavePath(username, saveName))
	return err == nil
}

// ServerSaveName is the name passed to the game's save command for a slot;
// the server writes <FLESavesDir>/<name>.zip.
func (s *SaveStore) ServerSaveName(slot int) string {
	return fmt.Sprintf("session_save_%d", slot)
}

// SlotSavePath is where the game server for a slot deposits its save file.
func (s *SaveStore) SlotSavePath(slot int) string {
	return filepath.Join(s.FLESavesDir, s.ServerSaveName(slot)+".zip")
}

// StageForSlot copies a user's save into the slot's load location.
func (s *SaveStore) StageForSlot(username, saveName string, slot int) error {
	dst := filepath.Join(s.FLESavesDir, fmt.Sprintf("slot_%d", slot), "save.zip")
	if err := os.MkdirAll(filepath.Dir(dst), os.ModePerm); err != nil {
		return err
	}
	return copyFile(s.SavePath(username, saveName), dst)
}

// CollectFromSlot copies the slot's freshly written save file into the user's
// saves directory under saveName and returns the destination path.
func (s *SaveStore) CollectFromSlot(slot int, username, saveName string) (string, error) {
	src := s.SlotSavePath(slot)
	if _, err := os.Stat(src); err != nil {
		return "", fmt.Errorf("slot %d save file not found at %s: %w", slot, src, err)
	}

	dst := s.SavePath(username, saveName)
	if err := os.MkdirAll(filepath.Dir(dst), os.ModePerm); err != nil {
		return "", err
	}
	if err := copyFile(src, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// ExportSlot copies the slot's freshly written save file to an arbitrary
// destination, for one-off downloads.
func (s *SaveStore) ExportSlot(slot int, dst string) error {
	src := s.SlotSavePath(slot)
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("slot %d save file not found at %s: %w", slot, src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), os.ModePerm); err != nil {
		return err
	}
	return copyFile(src, dst)
}

// Archive mirrors a save to object storage. Failures are logged, never
// propagated; the local file is the source of truth.
func (s *SaveStore) Archive(ctx context.Context, username, saveName string) {
	if s.archive == nil {
		return
	}

	data, err := os.ReadFile(s.SavePath(username, saveName))
	if err != nil {
		log.Printf("[SaveStore] archive read failed for %s/%s: %v", username, saveName, err)
		return
	}

	key := fmt.Sprintf("saves/%s/%s.zip", username, slug.Make(saveName))
	_, err = s.archive.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/zip"),
	})
	if err != nil {
		log.Printf("[SaveStore] archive upload failed for %s: %v", key, err)
		return
	}
	log.Printf("[SaveStore] archived %s (%d bytes)", key, len(data))
}

// NewArchiveClient builds an S3 client for an R2-style endpoint.
func NewArchiveClient(accountID, keyID, keySecret string) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			keyID, keySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load archive storage config: %w", err)
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	return client, nil
}

func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer dstFile.Close()

	_, err = io.Copy(dstFile, srcFile)
	return err
}
