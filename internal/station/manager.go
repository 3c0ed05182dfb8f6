package station

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/station-bridge/internal/device"
	"github.com/nerrad567/station-bridge/internal/event"
)

// defaultManagerConnectTimeout bounds the background connect of a new station.
const defaultManagerConnectTimeout = 10 * time.Second

// DeviceSource is the part of the device registry the Manager reads.
type DeviceSource interface {
	Device(ctx context.Context, id string) (device.Device, error)
	Speakers(ctx context.Context) ([]device.Device, error)
	SubscribeDevices(fn func(map[string]device.Device)) (unsubscribe func())
}

// StateChange is an observed state change of one station.
type StateChange struct {
	DeviceID string `json:"device_id"`
	State    State  `json:"state"`
}

// Manager owns one Station per speaker, created the first time the
// speaker is needed. Stations whose device leaves the account are closed.
type Manager struct {
	devices DeviceSource
	opts    Options
	logger  Logger

	mu          sync.Mutex
	stations    map[string]*Station
	closed      bool
	unsubscribe func()

	states event.Emitter[StateChange]
	wg     sync.WaitGroup
}

// NewManager creates a Manager. opts is used for every station it creates.
func NewManager(devices DeviceSource, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	m := &Manager{
		devices:  devices,
		opts:     opts,
		logger:   opts.Logger,
		stations: make(map[string]*Station),
	}
	m.unsubscribe = devices.SubscribeDevices(m.reconcile)
	return m
}

// Start creates a station for every speaker on the account.
func (m *Manager) Start(ctx context.Context) error {
	speakers, err := m.devices.Speakers(ctx)
	if err != nil {
		return fmt.Errorf("listing speakers: %w", err)
	}
	for _, dev := range speakers {
		if _, err := m.Get(ctx, dev.ID); err != nil {
			m.logger.Warn("station unavailable", "device_id", dev.ID, "error", err)
		}
	}
	m.logger.Info("stations started", "count", len(speakers))
	return nil
}

// Get returns the station for a device, creating it and starting a
// background local connect on first use.
func (m *Manager) Get(ctx context.Context, id string) (*Station, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if st, ok := m.stations[id]; ok {
		m.mu.Unlock()
		return st, nil
	}
	m.mu.Unlock()

	dev, err := m.devices.Device(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if st, ok := m.stations[id]; ok {
		return st, nil
	}

	st, err := New(dev, m.opts)
	if err != nil {
		return nil, err
	}
	st.SubscribeState(func(s State) {
		m.states.Emit(StateChange{DeviceID: id, State: s})
	})
	m.stations[id] = st
	m.connectAsync(st)
	return st, nil
}

// Stations returns the current stations ordered by device ID.
func (m *Manager) Stations() []*Station {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Station, 0, len(m.stations))
	for _, st := range m.stations {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Reconnect starts a local connect for the station with the given local
// device ID unless it is already local. Discovery calls it when a
// speaker is found on the network.
func (m *Manager) Reconnect(quasarID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	for _, st := range m.stations {
		if st.QuasarID() == quasarID && st.Mode() != ModeLocal {
			m.connectAsync(st)
		}
	}
}

// Execute runs a named command on the station for a device.
func (m *Manager) Execute(ctx context.Context, id string, req CommandRequest) error {
	st, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	return st.Execute(ctx, req)
}

// Stats returns the counters of every station keyed by device ID.
func (m *Manager) Stats() map[string]Stats {
	stations := m.Stations()
	out := make(map[string]Stats, len(stations))
	for _, st := range stations {
		out[st.ID()] = st.Stats()
	}
	return out
}

// SubscribeStates registers fn for state changes of every station.
func (m *Manager) SubscribeStates(fn func(StateChange)) (unsubscribe func()) {
	return m.states.Subscribe(fn)
}

// Close closes every station and waits for background connects.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	stations := m.stations
	m.stations = make(map[string]*Station)
	m.mu.Unlock()

	m.unsubscribe()
	for _, st := range stations {
		_ = st.Close() //nolint:errcheck // best-effort shutdown
	}
	m.wg.Wait()
	return nil
}

// connectAsync must be called with m.mu held.
func (m *Manager) connectAsync(st *Station) {
	timeout := m.opts.Config.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultManagerConnectTimeout
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := st.Connect(ctx); err != nil {
			m.logger.Info("speaker using cloud", "device_id", st.ID(), "reason", err)
		}
	}()
}

// reconcile closes stations whose device is no longer on the account.
func (m *Manager) reconcile(devices map[string]device.Device) {
	m.mu.Lock()
	var gone []*Station
	for id, st := range m.stations {
		if _, ok := devices[id]; !ok {
			gone = append(gone, st)
			delete(m.stations, id)
		}
	}
	m.mu.Unlock()

	for _, st := range gone {
		m.logger.Info("station removed", "device_id", st.ID())
		_ = st.Close() //nolint:errcheck // best-effort
	}
}
