package datasource

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datachat-io/datachat-engine/pkg/apperrors"
)

const (
	DefaultConnectionTTLMinutes = 5
	DefaultMaxConnections       = 50
	DefaultPoolMaxConns         = 5

	cleanupInterval = time.Minute
)

// ManagerConfig holds configuration for the connection manager.
type ManagerConfig struct {
	TTLMinutes     int
	MaxConnections int
	PoolMaxConns   int
}

// managedConn is one pooled connector with its last-use timestamp.
type managedConn struct {
	connector Connector
	dsType    string
	lastUsed  time.Time
}

// Manager caches one connector per datasource with TTL-based reaping so a
// burst of chat queries against the same source reuses its pool. A
// background goroutine closes idle connectors; Close stops it and closes
// everything.
type Manager struct {
	mu             sync.Mutex
	connections    map[uuid.UUID]*managedConn
	ttl            time.Duration
	maxConnections int
	poolMaxConns   int
	stopChan       chan struct{}
	stopOnce       sync.Once
	logger         *zap.Logger
}

// NewManager creates a connection manager and starts its reaper.
func NewManager(cfg ManagerConfig, logger *zap.Logger) *Manager {
	if cfg.TTLMinutes <= 0 {
		cfg.TTLMinutes = DefaultConnectionTTLMinutes
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if cfg.PoolMaxConns <= 0 {
		cfg.PoolMaxConns = DefaultPoolMaxConns
	}

	m := &Manager{
		connections:    make(map[uuid.UUID]*managedConn),
		ttl:            time.Duration(cfg.TTLMinutes) * time.Minute,
		maxConnections: cfg.MaxConnections,
		poolMaxConns:   cfg.PoolMaxConns,
		stopChan:       make(chan struct{}),
		logger:         logger.Named("connection-manager"),
	}
	go m.reapLoop()
	return m
}

// GetOrCreate returns a healthy connector for the datasource, opening one
// if needed. A cached connector that fails its health check is dropped
// and reopened.
func (m *Manager) GetOrCreate(ctx context.Context, datasourceID uuid.UUID, dsType string, cfg ConnConfig) (Connector, error) {
	m.mu.Lock()
	managed, exists := m.connections[datasourceID]
	m.mu.Unlock()

	if exists {
		healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := managed.connector.Ping(healthCtx)
		cancel()
		if err == nil {
			m.mu.Lock()
			managed.lastUsed = time.Now()
			m.mu.Unlock()
			return managed.connector, nil
		}

		m.logger.Warn("Cached connection unhealthy, reopening",
			zap.String("datasource_id", datasourceID.String()),
			zap.Error(err))
		m.mu.Lock()
		delete(m.connections, datasourceID)
		m.mu.Unlock()
		managed.connector.Close()
	}

	m.mu.Lock()
	if len(m.connections) >= m.maxConnections {
		m.mu.Unlock()
		return nil, apperrors.ErrConnectionLimit
	}
	m.mu.Unlock()

	connector, err := New(ctx, dsType, cfg, m.poolMaxConns)
	if err != nil {
		return nil, err
	}
	if err := connector.Ping(ctx); err != nil {
		connector.Close()
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another request may have raced us; keep the first one in.
	if existing, ok := m.connections[datasourceID]; ok {
		go connector.Close()
		existing.lastUsed = time.Now()
		return existing.connector, nil
	}
	m.connections[datasourceID] = &managedConn{
		connector: connector,
		dsType:    dsType,
		lastUsed:  time.Now(),
	}

	m.logger.Info("Opened datasource connection",
		zap.String("datasource_id", datasourceID.String()),
		zap.String("type", dsType),
		zap.Int("active", len(m.connections)))
	return connector, nil
}

// Invalidate drops the cached connector for a datasource, e.g. after its
// credentials change.
func (m *Manager) Invalidate(datasourceID uuid.UUID) {
	m.mu.Lock()
	managed, ok := m.connections[datasourceID]
	if ok {
		delete(m.connections, datasourceID)
	}
	m.mu.Unlock()

	if ok {
		managed.connector.Close()
	}
}

// ActiveConnections reports the number of cached connectors.
func (m *Manager) ActiveConnections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.connections)
}

// Close stops the reaper and closes all cached connectors.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stopChan) })

	m.mu.Lock()
	conns := make([]*managedConn, 0, len(m.connections))
	for id, managed := range m.connections {
		conns = append(conns, managed)
		delete(m.connections, id)
	}
	m.mu.Unlock()

	for _, managed := range conns {
		managed.connector.Close()
	}
}

func (m *Manager) reapLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.reapExpired(time.Now())
		case <-m.stopChan:
			return
		}
	}
}

func (m *Manager) reapExpired(now time.Time) {
	m.mu.Lock()
	var expired []*managedConn
	for id, managed := range m.connections {
		if now.Sub(managed.lastUsed) > m.ttl {
			expired = append(expired, managed)
			delete(m.connections, id)
		}
	}
	remaining := len(m.connections)
	m.mu.Unlock()

	for _, managed := range expired {
		managed.connector.Close()
	}
	if len(expired) > 0 {
		m.logger.Debug("Reaped idle datasource connections",
			zap.Int("reaped", len(expired)),
			zap.Int("remaining", remaining))
	}
}
