// Package manager owns the Land registry: definition registration, instance
// creation and lookup, routing of joins and actions, and engine-wide
// shutdown. Cross-Land work fans out concurrently; everything inside one
// Land stays serialized by its keeper.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"landkeeper/engine/internal/land"
	"landkeeper/engine/internal/logging"
	"landkeeper/engine/internal/value"
)

var (
	// ErrUnknownLandType signals a create request for an unregistered definition.
	ErrUnknownLandType = errors.New("unknown land type")
	// ErrDuplicateDefinition signals a land type registered twice.
	ErrDuplicateDefinition = errors.New("land type already registered")
)

// Option customises the manager at construction.
type Option func(*Manager)

// WithLogger installs the base logger.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithServices installs the shared dependency registry handed to every Land.
func WithServices(services *land.Services) Option {
	return func(m *Manager) { m.services = services }
}

// WithOutbound installs the delivery sink handed to every Land.
func WithOutbound(outbound land.Outbound) Option {
	return func(m *Manager) { m.outbound = outbound }
}

// WithPersister installs the snapshot store handed to every Land.
func WithPersister(persister land.Persister) Option {
	return func(m *Manager) { m.persister = persister }
}

// WithRecorder installs the frame journal handed to every Land.
func WithRecorder(recorder land.Recorder) Option {
	return func(m *Manager) { m.recorder = recorder }
}

// SetOutbound installs the delivery sink after construction. The transport
// needs the manager to route inbound traffic, so the cycle is broken here;
// call it before any Land is created.
func (m *Manager) SetOutbound(outbound land.Outbound) {
	m.mu.Lock()
	m.outbound = outbound
	m.mu.Unlock()
}

// LandInfo describes one live Land instance.
type LandInfo struct {
	ID      string
	Type    string
	Players int
	Ticks   land.TickStatsSnapshot
}

// Manager is the engine-wide Land registry.
type Manager struct {
	logger    *logging.Logger
	services  *land.Services
	outbound  land.Outbound
	persister land.Persister
	recorder  land.Recorder

	mu    sync.RWMutex
	defs  map[string]*land.Definition
	lands map[string]*land.Keeper
}

// New constructs an empty manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		defs:  make(map[string]*land.Definition),
		lands: make(map[string]*land.Keeper),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.L()
	}
	return m
}

// RegisterDefinition makes a Land type instantiable.
func (m *Manager) RegisterDefinition(def *land.Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.defs[def.LandType]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateDefinition, def.LandType)
	}
	m.defs[def.LandType] = def
	return nil
}

// GetOrCreateLand returns the live instance for landID, creating it from the
// named definition when absent. An existing instance of a different type is
// an identifier mismatch, never silently reused.
func (m *Manager) GetOrCreateLand(landType, landID string) (*land.Keeper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if keeper, ok := m.lands[landID]; ok {
		if keeper.Type() != landType {
			return nil, land.NewError(land.CodeJoinLandIDMismatch, "land id is bound to another land type").
				WithDetail("landId", landID).
				WithDetail("boundType", keeper.Type())
		}
		return keeper, nil
	}

	def, ok := m.defs[landType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLandType, landType)
	}
	keeper, err := land.NewKeeper(landID, def,
		land.WithLogger(m.logger),
		land.WithServices(m.services),
		land.WithOutbound(m.outbound),
		land.WithPersister(m.persister),
		land.WithRecorder(m.recorder),
		land.WithOnDestroyed(m.evict),
	)
	if err != nil {
		return nil, err
	}
	m.lands[landID] = keeper
	m.logger.Info("land created",
		logging.String("land_id", landID), logging.String("land_type", landType))
	return keeper, nil
}

// GetLand looks up a live instance.
func (m *Manager) GetLand(landID string) (*land.Keeper, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keeper, ok := m.lands[landID]
	return keeper, ok
}

// evict drops a self-destroyed Land from the registry. Installed as the
// keeper's teardown callback.
func (m *Manager) evict(landID string) {
	m.mu.Lock()
	delete(m.lands, landID)
	m.mu.Unlock()
	m.logger.Info("land evicted", logging.String("land_id", landID))
}

// RemoveLand shuts a Land down and drops it from the registry.
func (m *Manager) RemoveLand(ctx context.Context, landID string) error {
	keeper, ok := m.GetLand(landID)
	if !ok {
		return nil
	}
	if err := keeper.Shutdown(ctx); err != nil {
		return err
	}
	m.evict(landID)
	return nil
}

// ListLands reports the live instances sorted by identifier.
func (m *Manager) ListLands() []LandInfo {
	m.mu.RLock()
	keepers := make([]*land.Keeper, 0, len(m.lands))
	for _, keeper := range m.lands {
		keepers = append(keepers, keeper)
	}
	m.mu.RUnlock()

	infos := make([]LandInfo, 0, len(keepers))
	for _, keeper := range keepers {
		infos = append(infos, LandInfo{
			ID:      keeper.ID(),
			Type:    keeper.Type(),
			Players: keeper.PlayerCount(),
			Ticks:   keeper.Stats().Snapshot(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Join routes a join request, creating the Land on demand.
func (m *Manager) Join(ctx context.Context, landType, landID string, session land.PlayerSession) (land.JoinReply, error) {
	keeper, err := m.GetOrCreateLand(landType, landID)
	if err != nil {
		return land.JoinReply{}, err
	}
	return keeper.Join(ctx, session)
}

// Leave routes a leave request; unknown Lands are a no-op.
func (m *Manager) Leave(ctx context.Context, landID, sessionID string) error {
	keeper, ok := m.GetLand(landID)
	if !ok {
		return nil
	}
	return keeper.Leave(ctx, sessionID)
}

// DispatchAction routes an action to its Land.
func (m *Manager) DispatchAction(ctx context.Context, landID string, session land.PlayerSession, name string, payload value.Value) (value.Value, error) {
	keeper, ok := m.GetLand(landID)
	if !ok {
		return value.Null(), land.NewError(land.CodeJoinRoomNotFound, "land does not exist").
			WithDetail("landId", landID)
	}
	return keeper.HandleAction(ctx, session, name, payload)
}

// DispatchEvent routes a fire-and-forget client event to its Land.
func (m *Manager) DispatchEvent(ctx context.Context, landID string, session land.PlayerSession, name string, payload value.Value) error {
	keeper, ok := m.GetLand(landID)
	if !ok {
		return nil
	}
	return keeper.HandleClientEvent(ctx, session, name, payload)
}

// Shutdown tears every Land down concurrently and waits for completion.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	keepers := make([]*land.Keeper, 0, len(m.lands))
	for _, keeper := range m.lands {
		keepers = append(keepers, keeper)
	}
	m.lands = make(map[string]*land.Keeper)
	m.mu.Unlock()

	var group errgroup.Group
	for _, keeper := range keepers {
		keeper := keeper
		group.Go(func() error { return keeper.Shutdown(ctx) })
	}
	return group.Wait()
}
