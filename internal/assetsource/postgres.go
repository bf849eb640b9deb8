package assetsource

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"assetslicer/internal/domain"
	"assetslicer/internal/infra"
	"assetslicer/internal/sqlinline"
)

// PostgresSource resolves asset ids through the assets table and loads the
// bytes from file storage.
type PostgresSource struct {
	db    infra.SQLExecutor
	files Reader
}

func NewPostgresSource(db infra.SQLExecutor, files Reader) *PostgresSource {
	return &PostgresSource{db: db, files: files}
}

// Load returns the asset with the given id. Width and height come from the
// row when recorded, otherwise from the stored bytes.
func (s *PostgresSource) Load(ctx context.Context, assetID string) (domain.AssetDescriptor, error) {
	if _, err := uuid.Parse(assetID); err != nil {
		return domain.AssetDescriptor{}, fmt.Errorf("%w: invalid asset id %q", domain.ErrNotFound, assetID)
	}
	var id, name, storageKey, mime string
	var width, height int
	row := s.db.QueryRow(ctx, sqlinline.QSelectSourceAsset, assetID)
	if err := row.Scan(&id, &name, &storageKey, &mime, &width, &height); err != nil {
		if infra.IsNoRows(err) {
			return domain.AssetDescriptor{}, fmt.Errorf("%w: asset %s", domain.ErrNotFound, assetID)
		}
		return domain.AssetDescriptor{}, fmt.Errorf("load asset %s: %w", assetID, err)
	}
	data, err := s.files.Read(ctx, storageKey)
	if err != nil {
		return domain.AssetDescriptor{}, fmt.Errorf("read asset %s: %w", assetID, err)
	}
	if name == "" {
		name = NameFromFilename(storageKey)
	}
	if width > 0 && height > 0 {
		if name == "" {
			name = "Image"
		}
		return domain.AssetDescriptor{Bytes: data, Width: width, Height: height, Name: name, MIMEType: mime}, nil
	}
	return Measure(data, name, mime)
}

// Register records an asset already written to storage and returns its id.
func (s *PostgresSource) Register(ctx context.Context, storageKey string, asset domain.AssetDescriptor) (string, error) {
	var id uuid.UUID
	row := s.db.QueryRow(ctx, sqlinline.QInsertSourceAsset,
		asset.Name, storageKey, asset.MIMEType, int64(len(asset.Bytes)), asset.Width, asset.Height)
	if err := row.Scan(&id); err != nil {
		return "", fmt.Errorf("register asset: %w", err)
	}
	return id.String(), nil
}
