// Package memstore provides in-process ConfigStore and Historian adapters.
// They stand in for the out-of-scope PostgreSQL schema and Mongo historian
// (spec.md §1, §6): same interfaces, same semantics (including historian
// duplicate-key-is-success), backed by a mutex-guarded map instead of a
// real database connection.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/fieldware/memengine/internal/model"
	"github.com/fieldware/memengine/internal/store"
)

// ConfigStore is an in-memory, mutex-protected ConfigStore. Tests and a
// standalone single-node deployment populate it directly; a real deployment
// would swap in a Postgres-backed adapter behind the same interface without
// touching any processor.
type ConfigStore struct {
	mu sync.RWMutex

	points []model.Point

	alarms       []model.AlarmConfig
	pids         []model.PIDConfig
	totalizers   []model.TotalizerConfig
	rateOfChange []model.RateOfChangeConfig
	movingAvgs   []model.MovingAverageConfig
	deadbands    []model.DeadbandConfig
	schedules    []model.ScheduleConfig
	comparisons  []model.ComparisonGroupConfig
	minMaxes     []model.MinMaxSelectorConfig
	ifMemories   []model.IfMemoryConfig
	statWindows  []model.StatisticalWindowConfig
	writeActions []model.WriteActionConfig

	tuningSessions map[string]model.TuningSession
	activeAlarms   map[string]model.ActiveAlarm
	alarmHistory   []model.AlarmHistory
}

// New returns an empty ConfigStore ready for Set* calls.
func New() *ConfigStore {
	return &ConfigStore{
		tuningSessions: make(map[string]model.TuningSession),
		activeAlarms:   make(map[string]model.ActiveAlarm),
	}
}

func (c *ConfigStore) Ping(_ context.Context) error { return nil }

// SetPoints replaces the full point configuration set. Intended for test
// fixtures and bootstrap loading; concurrent-safe with reads.
func (c *ConfigStore) SetPoints(pts []model.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.points = append([]model.Point(nil), pts...)
}

func (c *ConfigStore) SetAlarmConfigs(v []model.AlarmConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alarms = append([]model.AlarmConfig(nil), v...)
}

func (c *ConfigStore) SetPIDConfigs(v []model.PIDConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pids = append([]model.PIDConfig(nil), v...)
}

func (c *ConfigStore) SetTotalizerConfigs(v []model.TotalizerConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalizers = append([]model.TotalizerConfig(nil), v...)
}

func (c *ConfigStore) SetRateOfChangeConfigs(v []model.RateOfChangeConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rateOfChange = append([]model.RateOfChangeConfig(nil), v...)
}

func (c *ConfigStore) SetMovingAverageConfigs(v []model.MovingAverageConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.movingAvgs = append([]model.MovingAverageConfig(nil), v...)
}

func (c *ConfigStore) SetDeadbandConfigs(v []model.DeadbandConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadbands = append([]model.DeadbandConfig(nil), v...)
}

func (c *ConfigStore) SetScheduleConfigs(v []model.ScheduleConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schedules = append([]model.ScheduleConfig(nil), v...)
}

func (c *ConfigStore) SetComparisonGroupConfigs(v []model.ComparisonGroupConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.comparisons = append([]model.ComparisonGroupConfig(nil), v...)
}

func (c *ConfigStore) SetMinMaxSelectorConfigs(v []model.MinMaxSelectorConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.minMaxes = append([]model.MinMaxSelectorConfig(nil), v...)
}

func (c *ConfigStore) SetIfMemoryConfigs(v []model.IfMemoryConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ifMemories = append([]model.IfMemoryConfig(nil), v...)
}

func (c *ConfigStore) SetStatisticalWindowConfigs(v []model.StatisticalWindowConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statWindows = append([]model.StatisticalWindowConfig(nil), v...)
}

func (c *ConfigStore) SetWriteActionConfigs(v []model.WriteActionConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeActions = append([]model.WriteActionConfig(nil), v...)
}

func (c *ConfigStore) Points(_ context.Context) ([]model.Point, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.Point(nil), c.points...), nil
}

func (c *ConfigStore) AlarmConfigs(_ context.Context) ([]model.AlarmConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.AlarmConfig(nil), c.alarms...), nil
}

func (c *ConfigStore) PIDConfigs(_ context.Context) ([]model.PIDConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.PIDConfig(nil), c.pids...), nil
}

// SavePIDConfig upserts a single PID config by ID, appending it if no
// existing entry matches.
func (c *ConfigStore) SavePIDConfig(_ context.Context, cfg model.PIDConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.pids {
		if existing.ID == cfg.ID {
			c.pids[i] = cfg
			return nil
		}
	}
	c.pids = append(c.pids, cfg)
	return nil
}

func (c *ConfigStore) TotalizerConfigs(_ context.Context) ([]model.TotalizerConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.TotalizerConfig(nil), c.totalizers...), nil
}

func (c *ConfigStore) RateOfChangeConfigs(_ context.Context) ([]model.RateOfChangeConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.RateOfChangeConfig(nil), c.rateOfChange...), nil
}

func (c *ConfigStore) MovingAverageConfigs(_ context.Context) ([]model.MovingAverageConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.MovingAverageConfig(nil), c.movingAvgs...), nil
}

func (c *ConfigStore) DeadbandConfigs(_ context.Context) ([]model.DeadbandConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.DeadbandConfig(nil), c.deadbands...), nil
}

func (c *ConfigStore) ScheduleConfigs(_ context.Context) ([]model.ScheduleConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.ScheduleConfig(nil), c.schedules...), nil
}

func (c *ConfigStore) ComparisonGroupConfigs(_ context.Context) ([]model.ComparisonGroupConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.ComparisonGroupConfig(nil), c.comparisons...), nil
}

func (c *ConfigStore) MinMaxSelectorConfigs(_ context.Context) ([]model.MinMaxSelectorConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.MinMaxSelectorConfig(nil), c.minMaxes...), nil
}

func (c *ConfigStore) IfMemoryConfigs(_ context.Context) ([]model.IfMemoryConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.IfMemoryConfig(nil), c.ifMemories...), nil
}

func (c *ConfigStore) StatisticalWindowConfigs(_ context.Context) ([]model.StatisticalWindowConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.StatisticalWindowConfig(nil), c.statWindows...), nil
}

func (c *ConfigStore) WriteActionConfigs(_ context.Context) ([]model.WriteActionConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.WriteActionConfig(nil), c.writeActions...), nil
}

func (c *ConfigStore) TuningSessions(_ context.Context) ([]model.TuningSession, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.TuningSession, 0, len(c.tuningSessions))
	for _, s := range c.tuningSessions {
		out = append(out, s)
	}
	return out, nil
}

func (c *ConfigStore) SaveTuningSession(_ context.Context, s model.TuningSession) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tuningSessions[s.ID] = s
	return nil
}

func (c *ConfigStore) ActiveAlarms(_ context.Context) ([]model.ActiveAlarm, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.ActiveAlarm, 0, len(c.activeAlarms))
	for _, a := range c.activeAlarms {
		out = append(out, a)
	}
	return out, nil
}

func (c *ConfigStore) UpsertActiveAlarm(_ context.Context, a model.ActiveAlarm) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeAlarms[a.AlarmID] = a
	return nil
}

func (c *ConfigStore) DeleteActiveAlarm(_ context.Context, alarmID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.activeAlarms, alarmID)
	return nil
}

func (c *ConfigStore) AppendAlarmHistory(_ context.Context, h model.AlarmHistory) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alarmHistory = append(c.alarmHistory, h)
	return nil
}

// AlarmHistoryRecords returns a snapshot of every recorded alarm history
// entry, newest last. Test-only accessor.
func (c *ConfigStore) AlarmHistoryRecords() []model.AlarmHistory {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.AlarmHistory(nil), c.alarmHistory...)
}

var _ store.ConfigStore = (*ConfigStore)(nil)

type historianKey struct {
	pointID     string
	unixSeconds int64
}

// Historian is an in-memory Historian. Collections are modeled as a map
// keyed by (pointID, unixSeconds); a duplicate insert is a no-op success,
// matching the document-store contract in spec §6.
type Historian struct {
	mu      sync.Mutex
	records map[historianKey]model.HistoryRecord
}

func NewHistorian() *Historian {
	return &Historian{records: make(map[historianKey]model.HistoryRecord)}
}

func (h *Historian) Append(_ context.Context, rec model.HistoryRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := historianKey{pointID: rec.PointID, unixSeconds: rec.UnixSeconds}
	if _, exists := h.records[key]; exists {
		return nil
	}
	h.records[key] = rec
	return nil
}

// Records returns every stored record for pointID, ordered by UnixSeconds.
// Test-only accessor; a real Mongo-backed adapter would expose this as a
// range query instead.
func (h *Historian) Records(pointID string) []model.HistoryRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []model.HistoryRecord
	for k, v := range h.records {
		if k.pointID == pointID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnixSeconds < out[j].UnixSeconds })
	return out
}

var _ store.Historian = (*Historian)(nil)

// PointStore is an in-memory, mutex-protected PointStore. It implements the
// same contract as the badger-backed kv.Store and is used by package tests
// throughout internal/blocks so that every block can be exercised without a
// real embedded database.
type PointStore struct {
	mu sync.RWMutex

	raw        map[string]model.RawValue
	final      map[string]model.FinalValue
	writeItems map[string]model.WriteItem
	globalVars map[string]model.GlobalVariable
	state      map[string][]byte
}

func NewPointStore() *PointStore {
	return &PointStore{
		raw:        make(map[string]model.RawValue),
		final:      make(map[string]model.FinalValue),
		writeItems: make(map[string]model.WriteItem),
		globalVars: make(map[string]model.GlobalVariable),
		state:      make(map[string][]byte),
	}
}

func (s *PointStore) GetRaw(_ context.Context, pointID string) (model.RawValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.raw[pointID]
	if !ok {
		return model.RawValue{}, store.ErrNotFound
	}
	return v, nil
}

func (s *PointStore) SetRaw(_ context.Context, v model.RawValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw[v.PointID] = v
	return nil
}

func (s *PointStore) AllRaw(_ context.Context) ([]model.RawValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.RawValue, 0, len(s.raw))
	for _, v := range s.raw {
		out = append(out, v)
	}
	return out, nil
}

func (s *PointStore) GetFinal(_ context.Context, pointID string) (model.FinalValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.final[pointID]
	if !ok {
		return model.FinalValue{}, store.ErrNotFound
	}
	return v, nil
}

func (s *PointStore) SetFinal(_ context.Context, v model.FinalValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.final[v.PointID] = v
	return nil
}

func (s *PointStore) UpsertWriteItem(_ context.Context, item model.WriteItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeItems[item.PointID] = item
	return nil
}

func (s *PointStore) PendingWriteItems(_ context.Context) ([]model.WriteItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.WriteItem, 0, len(s.writeItems))
	for _, v := range s.writeItems {
		out = append(out, v)
	}
	return out, nil
}

func (s *PointStore) GetState(_ context.Context, key string, out interface{}) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.state[key]
	if !ok {
		return store.ErrNotFound
	}
	return json.Unmarshal(b, out)
}

func (s *PointStore) SetState(_ context.Context, key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[key] = b
	return nil
}

func (s *PointStore) DeleteState(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state, key)
	return nil
}

func (s *PointStore) GetGlobalVariable(_ context.Context, name string) (model.GlobalVariable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.globalVars[name]
	if !ok {
		return model.GlobalVariable{}, store.ErrNotFound
	}
	return v, nil
}

func (s *PointStore) SetGlobalVariable(_ context.Context, v model.GlobalVariable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalVars[v.Name] = v
	return nil
}

func (s *PointStore) Close() error { return nil }

var _ store.PointStore = (*PointStore)(nil)
