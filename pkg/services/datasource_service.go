// Package services implements the engine's business logic on top of the
// repositories, adapters, and LLM client.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datachat-io/datachat-engine/pkg/adapters/datasource"
	"github.com/datachat-io/datachat-engine/pkg/apperrors"
	"github.com/datachat-io/datachat-engine/pkg/crypto"
	"github.com/datachat-io/datachat-engine/pkg/models"
	"github.com/datachat-io/datachat-engine/pkg/repositories"
)

// DatasourceService manages customer database connections. Connection
// configs are encrypted at rest and only decrypted when opening a
// connection or returning a masked view.
type DatasourceService interface {
	Create(ctx context.Context, name, dsType, description string, connConfig map[string]any) (*models.Datasource, error)

	// Get returns the datasource with its config decrypted. Callers that
	// serialize it must use MaskedConfig.
	Get(ctx context.Context, id uuid.UUID) (*models.Datasource, error)

	List(ctx context.Context, limit, offset int) ([]*models.Datasource, int, error)

	Update(ctx context.Context, id uuid.UUID, name, description string, connConfig map[string]any) (*models.Datasource, error)

	Delete(ctx context.Context, id uuid.UUID) error

	// TestConnection opens a short-lived connection with the given config
	// and pings it. Used before saving a datasource.
	TestConnection(ctx context.Context, dsType string, connConfig map[string]any) error

	// Connect returns a live connector for the datasource, going through
	// the connection manager's cache.
	Connect(ctx context.Context, id uuid.UUID) (datasource.Connector, *models.Datasource, error)
}

type datasourceService struct {
	repo      repositories.DatasourceRepository
	encryptor *crypto.CredentialEncryptor
	manager   *datasource.Manager
	logger    *zap.Logger
}

// NewDatasourceService creates a datasource service.
func NewDatasourceService(
	repo repositories.DatasourceRepository,
	encryptor *crypto.CredentialEncryptor,
	manager *datasource.Manager,
	logger *zap.Logger,
) DatasourceService {
	return &datasourceService{
		repo:      repo,
		encryptor: encryptor,
		manager:   manager,
		logger:    logger.Named("datasource_service"),
	}
}

var _ DatasourceService = (*datasourceService)(nil)

func (s *datasourceService) Create(ctx context.Context, name, dsType, description string, connConfig map[string]any) (*models.Datasource, error) {
	if name == "" {
		return nil, fmt.Errorf("name is required: %w", apperrors.ErrValidation)
	}
	if !models.ValidDatasourceType(dsType) {
		return nil, fmt.Errorf("unsupported datasource type %q: %w", dsType, apperrors.ErrValidation)
	}
	if _, err := datasource.ConfigFromMap(connConfig); err != nil {
		return nil, fmt.Errorf("%s: %w", err, apperrors.ErrValidation)
	}

	encrypted, err := s.encryptor.EncryptConfig(connConfig)
	if err != nil {
		return nil, fmt.Errorf("encrypt connection config: %w", err)
	}

	ds := &models.Datasource{
		Name:           name,
		DatasourceType: dsType,
		Description:    description,
		Config:         connConfig,
		Status:         models.DatasourceStatusActive,
	}
	if err := s.repo.Create(ctx, ds, encrypted); err != nil {
		return nil, err
	}

	s.logger.Info("datasource created",
		zap.String("datasource_id", ds.ID.String()),
		zap.String("type", dsType))
	return ds, nil
}

func (s *datasourceService) Get(ctx context.Context, id uuid.UUID) (*models.Datasource, error) {
	ds, encrypted, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ds.Config, err = s.decryptConfig(encrypted)
	if err != nil {
		return nil, err
	}
	return ds, nil
}

func (s *datasourceService) List(ctx context.Context, limit, offset int) ([]*models.Datasource, int, error) {
	sources, encrypted, total, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for i, ds := range sources {
		ds.Config, err = s.decryptConfig(encrypted[i])
		if err != nil {
			return nil, 0, err
		}
	}
	return sources, total, nil
}

func (s *datasourceService) Update(ctx context.Context, id uuid.UUID, name, description string, connConfig map[string]any) (*models.Datasource, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = current.Name
	}
	if connConfig == nil {
		connConfig = current.Config
	} else if _, err := datasource.ConfigFromMap(connConfig); err != nil {
		return nil, fmt.Errorf("%s: %w", err, apperrors.ErrValidation)
	}

	encrypted, err := s.encryptor.EncryptConfig(connConfig)
	if err != nil {
		return nil, fmt.Errorf("encrypt connection config: %w", err)
	}

	if err := s.repo.Update(ctx, id, name, description, encrypted); err != nil {
		return nil, err
	}

	// Cached connections may point at the old credentials.
	s.manager.Invalidate(id)

	current.Name = name
	current.Description = description
	current.Config = connConfig
	current.UpdatedAt = time.Now()
	return current, nil
}

func (s *datasourceService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.manager.Invalidate(id)
	s.logger.Info("datasource deleted", zap.String("datasource_id", id.String()))
	return nil
}

func (s *datasourceService) TestConnection(ctx context.Context, dsType string, connConfig map[string]any) error {
	if !models.ValidDatasourceType(dsType) {
		return fmt.Errorf("unsupported datasource type %q: %w", dsType, apperrors.ErrValidation)
	}
	cfg, err := datasource.ConfigFromMap(connConfig)
	if err != nil {
		return fmt.Errorf("%s: %w", err, apperrors.ErrValidation)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := datasource.New(ctx, dsType, cfg, 1)
	if err != nil {
		return fmt.Errorf("%s: %w", err, apperrors.ErrDatasourceUnhealthy)
	}
	defer conn.Close()

	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("%s: %w", err, apperrors.ErrDatasourceUnhealthy)
	}
	return nil
}

func (s *datasourceService) Connect(ctx context.Context, id uuid.UUID) (datasource.Connector, *models.Datasource, error) {
	ds, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if ds.Status == models.DatasourceStatusDisabled {
		return nil, nil, fmt.Errorf("datasource is disabled: %w", apperrors.ErrValidation)
	}

	cfg, err := datasource.ConfigFromMap(ds.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", err, apperrors.ErrValidation)
	}

	conn, err := s.manager.GetOrCreate(ctx, id, ds.DatasourceType, cfg)
	if err != nil {
		return nil, nil, err
	}
	return conn, ds, nil
}

func (s *datasourceService) decryptConfig(encrypted string) (map[string]any, error) {
	cfg, err := s.encryptor.DecryptConfig(encrypted)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err, apperrors.ErrCredentialsKey)
	}
	return cfg, nil
}
