package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/datachat-io/datachat-engine/pkg/adapters/datasource"
	"github.com/datachat-io/datachat-engine/pkg/apperrors"
	"github.com/datachat-io/datachat-engine/pkg/models"
	"github.com/datachat-io/datachat-engine/pkg/repositories"
)

// syncTimeout bounds one full metadata discovery run.
const syncTimeout = 5 * time.Minute

// TableSyncService discovers tables, columns, and foreign keys from a
// customer database and caches them in the metadata store.
type TableSyncService interface {
	// TriggerSync starts an asynchronous sync for the datasource. Returns
	// apperrors.ErrSyncInProgress when one is already running.
	TriggerSync(ctx context.Context, datasourceID uuid.UUID) error

	// SyncNow runs a sync synchronously. Used by TriggerSync's worker and
	// by tests.
	SyncNow(ctx context.Context, datasourceID uuid.UUID) error

	// Running reports whether a sync is currently in flight.
	Running(datasourceID uuid.UUID) bool
}

type tableSyncService struct {
	datasources DatasourceService
	tables      repositories.TableRepository
	logger      *zap.Logger

	mu       sync.Mutex
	inFlight map[uuid.UUID]bool
}

// NewTableSyncService creates a table sync service.
func NewTableSyncService(
	datasources DatasourceService,
	tables repositories.TableRepository,
	logger *zap.Logger,
) TableSyncService {
	return &tableSyncService{
		datasources: datasources,
		tables:      tables,
		logger:      logger.Named("table_sync"),
		inFlight:    make(map[uuid.UUID]bool),
	}
}

var _ TableSyncService = (*tableSyncService)(nil)

func (s *tableSyncService) TriggerSync(ctx context.Context, datasourceID uuid.UUID) error {
	// Validate the datasource exists before detaching.
	if _, err := s.datasources.Get(ctx, datasourceID); err != nil {
		return err
	}
	if !s.begin(datasourceID) {
		return apperrors.ErrSyncInProgress
	}

	go func() {
		defer s.end(datasourceID)

		ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		defer cancel()

		if err := s.runSync(ctx, datasourceID); err != nil {
			s.logger.Error("table sync failed",
				zap.String("datasource_id", datasourceID.String()),
				zap.Error(err))
		}
	}()
	return nil
}

func (s *tableSyncService) SyncNow(ctx context.Context, datasourceID uuid.UUID) error {
	if !s.begin(datasourceID) {
		return apperrors.ErrSyncInProgress
	}
	defer s.end(datasourceID)
	return s.runSync(ctx, datasourceID)
}

func (s *tableSyncService) Running(datasourceID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[datasourceID]
}

func (s *tableSyncService) begin(datasourceID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[datasourceID] {
		return false
	}
	s.inFlight[datasourceID] = true
	return true
}

func (s *tableSyncService) end(datasourceID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, datasourceID)
}

func (s *tableSyncService) runSync(ctx context.Context, datasourceID uuid.UUID) error {
	start := time.Now()
	if err := s.tables.SetSyncStatus(ctx, datasourceID, models.SyncStatusRunning, ""); err != nil {
		return err
	}

	err := s.discover(ctx, datasourceID)
	if err != nil {
		if statusErr := s.tables.SetSyncStatus(ctx, datasourceID, models.SyncStatusFailed, err.Error()); statusErr != nil {
			s.logger.Warn("failed to record sync failure", zap.Error(statusErr))
		}
		return err
	}

	if err := s.tables.SetSyncStatus(ctx, datasourceID, models.SyncStatusSucceeded, ""); err != nil {
		return err
	}
	s.logger.Info("table sync completed",
		zap.String("datasource_id", datasourceID.String()),
		zap.Duration("duration", time.Since(start)))
	return nil
}

func (s *tableSyncService) discover(ctx context.Context, datasourceID uuid.UUID) error {
	conn, _, err := s.datasources.Connect(ctx, datasourceID)
	if err != nil {
		return err
	}

	discovered, err := conn.DiscoverTables(ctx)
	if err != nil {
		return fmt.Errorf("discover tables: %w", err)
	}

	now := time.Now()
	keep := make([]string, 0, len(discovered))
	tableIDs := make(map[string]uuid.UUID, len(discovered))

	for _, meta := range discovered {
		t := &models.DataTable{
			DatasourceID: datasourceID,
			SchemaName:   meta.Schema,
			TableName:    meta.Name,
			DisplayName:  displayName(meta.Name),
			Description:  meta.Comment,
			SyncStatus:   models.SyncStatusSucceeded,
			LastSyncedAt: &now,
		}
		if err := s.tables.UpsertTable(ctx, t); err != nil {
			return err
		}
		key := meta.Schema + "." + meta.Name
		keep = append(keep, key)
		tableIDs[key] = t.ID

		columns, err := conn.DiscoverColumns(ctx, meta.Schema, meta.Name)
		if err != nil {
			return fmt.Errorf("discover columns of %s: %w", key, err)
		}
		fields := make([]*models.TableField, len(columns))
		for i, col := range columns {
			fields[i] = &models.TableField{
				FieldName:       col.Name,
				DataType:        col.DataType,
				IsNullable:      col.IsNullable,
				IsPrimaryKey:    col.IsPrimary,
				Comment:         col.Comment,
				OrdinalPosition: i + 1,
			}
		}
		if err := s.tables.ReplaceFields(ctx, t.ID, fields); err != nil {
			return err
		}
	}

	if removed, err := s.tables.DeleteMissing(ctx, datasourceID, keep); err != nil {
		return err
	} else if removed > 0 {
		s.logger.Info("dropped vanished tables",
			zap.String("datasource_id", datasourceID.String()),
			zap.Int64("count", removed))
	}

	return s.syncRelations(ctx, conn, datasourceID, tableIDs)
}

// displayName derives an initial human label from a table name,
// "order_items" -> "Order Item". Only seeds new tables; curated names
// survive later syncs.
func displayName(tableName string) string {
	parts := strings.FieldsFunc(tableName, func(r rune) bool {
		return r == '_' || r == '-' || r == '.'
	})
	words := make([]string, 0, len(parts))
	for i, w := range parts {
		if i == len(parts)-1 {
			w = inflection.Singular(w)
		}
		first, size := utf8.DecodeRuneInString(w)
		words = append(words, string(unicode.ToUpper(first))+w[size:])
	}
	return strings.Join(words, " ")
}

// syncRelations rewrites the datasource's relations from the live foreign
// keys. User-curated relations are rediscovered on the next sync only if
// they exist as real constraints.
func (s *tableSyncService) syncRelations(ctx context.Context, conn datasource.Connector, datasourceID uuid.UUID, tableIDs map[string]uuid.UUID) error {
	fks, err := conn.DiscoverForeignKeys(ctx)
	if err != nil {
		return fmt.Errorf("discover foreign keys: %w", err)
	}

	existing, err := s.tables.ListRelations(ctx, datasourceID)
	if err != nil {
		return err
	}
	for _, rel := range existing {
		if err := s.tables.DeleteRelation(ctx, rel.ID); err != nil {
			return err
		}
	}

	for _, fk := range fks {
		fromID, okFrom := tableIDs[fk.Schema+"."+fk.Table]
		toID, okTo := tableIDs[fk.ReferencedSchema+"."+fk.ReferencedTable]
		if !okFrom || !okTo {
			continue
		}
		rel := &models.TableRelation{
			DatasourceID: datasourceID,
			FromTableID:  fromID,
			FromField:    fk.Column,
			ToTableID:    toID,
			ToField:      fk.ReferencedColumn,
			RelationType: models.RelationTypeOneToMany,
		}
		if err := s.tables.CreateRelation(ctx, rel); err != nil {
			return err
		}
	}
	return nil
}
