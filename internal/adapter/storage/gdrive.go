package storage

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

type GDriveStorage struct {
	service  *drive.Service
	folderID string
}

// NewGDrive authenticates with a service account or authorized-user
// credentials file.
func NewGDrive(ctx context.Context, credentialsFile, folderID string) (*GDriveStorage, error) {
	service, err := drive.NewService(ctx, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	return &GDriveStorage{service: service, folderID: folderID}, nil
}

// NewGDriveWithToken uses an OAuth2 refresh token minted by the gdrive-auth command.
func NewGDriveWithToken(ctx context.Context, oauthCfg *oauth2.Config, token *oauth2.Token, folderID string) (*GDriveStorage, error) {
	service, err := drive.NewService(ctx, option.WithTokenSource(oauthCfg.TokenSource(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	return &GDriveStorage{service: service, folderID: folderID}, nil
}

// escapeQuery quotes a value for a Drive search expression.
func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

func (g *GDriveStorage) Upload(ctx context.Context, localPath string, remoteName string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fileMetadata := &drive.File{
		Name:    remoteName,
		Parents: []string{g.folderID},
	}

	_, err = g.service.Files.Create(fileMetadata).
		Media(file).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to upload to gdrive: %w", err)
	}

	return nil
}

// listFiles runs query across every result page.
func (g *GDriveStorage) listFiles(ctx context.Context, query string, fields googleapi.Field) ([]*drive.File, error) {
	var files []*drive.File
	err := g.service.Files.List().
		Q(query).
		Fields("nextPageToken", fields).
		PageSize(1000).
		Context(ctx).
		Pages(ctx, func(page *drive.FileList) error {
			files = append(files, page.Files...)
			return nil
		})
	return files, err
}

func (g *GDriveStorage) List(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf("'%s' in parents and trashed=false", escapeQuery(g.folderID))

	found, err := g.listFiles(ctx, query, "files(id, name)")
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	files := make([]string, 0, len(found))
	for _, file := range found {
		files = append(files, file.Name)
	}
	return files, nil
}

func (g *GDriveStorage) Delete(ctx context.Context, remoteName string) error {
	query := fmt.Sprintf("'%s' in parents and name='%s' and trashed=false",
		escapeQuery(g.folderID), escapeQuery(remoteName))

	found, err := g.listFiles(ctx, query, "files(id)")
	if err != nil {
		return fmt.Errorf("failed to find file: %w", err)
	}
	if len(found) == 0 {
		return fmt.Errorf("file not found: %s", remoteName)
	}

	for _, file := range found {
		if err := g.service.Files.Delete(file.Id).Context(ctx).Do(); err != nil {
			return fmt.Errorf("failed to delete file: %w", err)
		}
	}
	return nil
}

func (g *GDriveStorage) GetOldFiles(ctx context.Context, cutoffTime time.Time) ([]string, error) {
	query := fmt.Sprintf("'%s' in parents and trashed=false and createdTime < '%s'",
		escapeQuery(g.folderID),
		cutoffTime.UTC().Format(time.RFC3339))

	found, err := g.listFiles(ctx, query, "files(id, name)")
	if err != nil {
		return nil, fmt.Errorf("failed to list old files: %w", err)
	}

	files := make([]string, 0, len(found))
	for _, file := range found {
		files = append(files, file.Name)
	}
	return files, nil
}
