// Package manager owns the set of running pair workers: lifecycle
// (add/start/stop/remove), debounced state persistence, statistics, and the
// global emergency stop.
package manager

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"dcaengine/internal/backtest"
	"dcaengine/internal/exchange"
	"dcaengine/internal/feed"
	"dcaengine/internal/models"
	"dcaengine/internal/order"
	"dcaengine/internal/risk"
	"dcaengine/internal/store"
	"dcaengine/internal/websocket"
	"dcaengine/internal/worker"
	"dcaengine/pkg/crypto"
	"dcaengine/pkg/utils"
)

var log = utils.L().WithComponent("manager")

// maxActivePairsWarning is the number of simultaneously running pairs above
// which the manager logs a load warning; it is not an enforced limit.
const maxActivePairsWarning = 15

// runtimeSnapshotInterval is how often the manager re-schedules a runtime
// save for every known pair, so open positions that generate no events are
// still re-persisted before a crash.
const runtimeSnapshotInterval = 15 * time.Second

// PairStats is a symbol's running trade statistics, kept in memory and
// exposed over the operator API.
type PairStats struct {
	Exchange    string  `json:"exchange"`
	Mode        string  `json:"mode"`
	Direction   string  `json:"direction"`
	Trades      int     `json:"trades"`
	WinTrades   int     `json:"win_trades"`
	LossTrades  int     `json:"loss_trades"`
	PnlUSDT     float64 `json:"pnl_usdt"`
}

type pairEntry struct {
	worker       *worker.Worker
	exchangeName string
	mode         string
}

// Manager coordinates every active pair worker against a shared feed, order
// manager, risk manager, store, and websocket hub.
type Manager struct {
	mu               sync.RWMutex
	pairs            map[string]*pairEntry
	pairSettings     map[string]models.StrategySettings
	defaultSettings  models.StrategySettings
	statistics       map[string]*PairStats
	exchanges        map[string]exchange.Exchange
	credentials      map[string]models.ExchangeCredentials
	autoResumePairs  bool

	feed   *feed.Feed
	orders *order.Manager
	risk   *risk.Manager
	hub    *websocket.Hub
	store  *store.Store

	runtimeSaveDebounce time.Duration
	exchangeRateLimit   float64
	encryptionKey       []byte

	dirtyMu        sync.Mutex
	dirty          map[string]bool
	flushScheduled bool

	notificationChan chan *models.Notification

	snapshotCancel context.CancelFunc
	snapshotDone   chan struct{}
}

// Config bundles the tunables a Manager needs at construction.
type Config struct {
	RuntimeSaveDebounce time.Duration
	ExchangeRateLimit   float64
	// EncryptionKey must be exactly 32 bytes; used to AES-256-GCM encrypt
	// exchange API credentials before they hit app_state. Leave empty in
	// tests that never persist credentials.
	EncryptionKey []byte
}

// New builds a Manager. Call Initialize to restore persisted pairs before
// serving traffic.
func New(st *store.Store, hub *websocket.Hub, f *feed.Feed, cfg Config) *Manager {
	if cfg.RuntimeSaveDebounce <= 0 {
		cfg.RuntimeSaveDebounce = 1 * time.Second
	}
	if cfg.ExchangeRateLimit <= 0 {
		cfg.ExchangeRateLimit = 8
	}

	notificationChan := make(chan *models.Notification, 64)
	m := &Manager{
		pairs:               make(map[string]*pairEntry),
		pairSettings:         make(map[string]models.StrategySettings),
		defaultSettings:      models.DefaultStrategySettings(),
		statistics:           make(map[string]*PairStats),
		exchanges:            make(map[string]exchange.Exchange),
		credentials:          make(map[string]models.ExchangeCredentials),
		feed:                 f,
		store:                st,
		hub:                  hub,
		runtimeSaveDebounce:  cfg.RuntimeSaveDebounce,
		exchangeRateLimit:    cfg.ExchangeRateLimit,
		encryptionKey:        cfg.EncryptionKey,
		dirty:                make(map[string]bool),
		notificationChan:     notificationChan,
	}
	m.orders = order.NewManager(f)
	m.risk = risk.New(notificationChan, func() {
		log.Sugar().Infof("manager: risk rule triggered, stopping all pairs")
		go m.StopAllPairs(context.Background())
	})
	go m.forwardNotifications()
	return m
}

func (m *Manager) forwardNotifications() {
	for n := range m.notificationChan {
		if m.hub != nil {
			m.hub.BroadcastNotification(n)
		}
	}
}

// Initialize loads persisted app state and pair rows, restoring an
// in-memory worker for each and resuming those marked running.
func (m *Manager) Initialize(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.InitSchema(); err != nil {
		return err
	}

	m.loadAppState()

	rows, err := m.store.LoadAllPairs()
	if err != nil {
		log.Sugar().Infof("manager: state load error: %v", err)
		return nil
	}
	log.Sugar().Infof("manager: loaded %d pairs from state", len(rows))

	for _, row := range rows {
		m.restorePairFromState(ctx, row)
	}

	m.startPeriodicRuntimeSnapshot()
	return nil
}

// startPeriodicRuntimeSnapshot launches the long-lived loop that, every
// runtimeSnapshotInterval, schedules a runtime save for every known pair.
// Without it a pair sitting open with no new fills or price events never
// gets re-persisted, so a crash loses its latest runtime.
func (m *Manager) startPeriodicRuntimeSnapshot() {
	ctx, cancel := context.WithCancel(context.Background())
	m.snapshotCancel = cancel
	m.snapshotDone = make(chan struct{})
	go m.runPeriodicRuntimeSnapshot(ctx)
}

func (m *Manager) runPeriodicRuntimeSnapshot(ctx context.Context) {
	defer close(m.snapshotDone)
	ticker := time.NewTicker(runtimeSnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			symbols := make([]string, 0, len(m.pairs))
			for symbol := range m.pairs {
				symbols = append(symbols, symbol)
			}
			m.mu.RUnlock()
			for _, symbol := range symbols {
				m.ScheduleRuntimeSave(symbol)
			}
		}
	}
}

func (m *Manager) loadAppState() {
	data, err := m.store.LoadAppState()
	if err != nil {
		log.Sugar().Infof("manager: app state load error: %v", err)
		return
	}
	if len(data) == 0 {
		return
	}

	var state models.AppState
	if err := json.Unmarshal(data, &state); err != nil {
		log.Sugar().Infof("manager: app state decode error: %v", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoResumePairs = state.AutoResumeRunningPairs
	for name, creds := range state.Credentials {
		m.credentials[name] = m.decryptCredentials(creds)
	}
}

// encryptCredentials and decryptCredentials guard API secrets at rest; if no
// encryption key is configured (e.g. in tests) they pass values through
// unchanged.
func (m *Manager) encryptCredentials(creds models.ExchangeCredentials) models.ExchangeCredentials {
	if len(m.encryptionKey) == 0 {
		return creds
	}
	key, errKey := crypto.Encrypt(creds.APIKey, m.encryptionKey)
	secret, errSecret := crypto.Encrypt(creds.APISecret, m.encryptionKey)
	if errKey != nil || errSecret != nil {
		log.Sugar().Infof("manager: credential encryption failed, storing in plaintext")
		return creds
	}
	return models.ExchangeCredentials{APIKey: key, APISecret: secret}
}

func (m *Manager) decryptCredentials(creds models.ExchangeCredentials) models.ExchangeCredentials {
	if len(m.encryptionKey) == 0 {
		return creds
	}
	key, errKey := crypto.Decrypt(creds.APIKey, m.encryptionKey)
	secret, errSecret := crypto.Decrypt(creds.APISecret, m.encryptionKey)
	if errKey != nil || errSecret != nil {
		log.Sugar().Infof("manager: credential decryption failed, dropping stored credential")
		return models.ExchangeCredentials{}
	}
	return models.ExchangeCredentials{APIKey: key, APISecret: secret}
}

func (m *Manager) restorePairFromState(ctx context.Context, row store.PairRow) {
	var record models.PairRecord
	record.PairID = row.PairID
	if err := unmarshalLenient(row.ConfigJSON, &record.Config); err != nil {
		log.Sugar().Infof("manager: restore %s: bad config: %v", row.PairID, err)
		return
	}
	if err := unmarshalLenient(row.RuntimeJSON, &record.Runtime); err != nil {
		log.Sugar().Infof("manager: restore %s: bad runtime: %v", row.PairID, err)
	}

	mode := record.Config.Settings.Mode
	if mode == "" {
		mode = models.ModeSpot
	}
	exchangeName := record.Config.Exchange
	if exchangeName == "" {
		exchangeName = "Binance"
	}

	m.mu.Lock()
	m.pairSettings[row.PairID] = record.Config.Settings
	m.mu.Unlock()

	w := m.AddPair(row.PairID, mode, exchangeName)
	w.ApplyRuntimeState(record.Runtime)

	if record.Config.Settings.RunMode == models.RunModeLive {
		m.ResyncPairWithExchange(ctx, row.PairID)
	}
	if record.Config.Settings.AutoResumeRunningPairs && record.Runtime.IsRunning {
		m.StartPair(ctx, row.PairID)
	}
}

func unmarshalLenient(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// getExchange lazily constructs and caches an Exchange adapter for name.
func (m *Manager) getExchange(name string) exchange.Exchange {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ex, ok := m.exchanges[name]; ok {
		return ex
	}
	creds := m.credentials[name]
	ex := exchange.New(strings.ToLower(name), exchange.Credentials{APIKey: creds.APIKey, APISecret: creds.APISecret}, m.exchangeRateLimit)
	m.exchanges[name] = ex
	return ex
}

// SetExchangeCredentials updates stored credentials and drops any cached
// adapter so the next use picks them up.
func (m *Manager) SetExchangeCredentials(exchangeName, apiKey, apiSecret string) {
	m.mu.Lock()
	m.credentials[exchangeName] = models.ExchangeCredentials{APIKey: apiKey, APISecret: apiSecret}
	delete(m.exchanges, exchangeName)
	m.mu.Unlock()
	m.saveAppStateBackground()
	log.Sugar().Infof("manager: credentials updated for %s", exchangeName)
}

func (m *Manager) ensureStatistics(symbol, mode, direction, exchangeName string) {
	if _, ok := m.statistics[symbol]; !ok {
		m.statistics[symbol] = &PairStats{Exchange: exchangeName, Mode: mode, Direction: direction}
	}
}

// RecordTrade updates in-memory statistics, persists the pair's runtime, and
// feeds the risk manager's loss-streak rule. It is wired as every worker's
// OnTradeClosed callback.
func (m *Manager) RecordTrade(symbol string, pnl float64, mode, direction string) {
	m.mu.Lock()
	m.ensureStatistics(symbol, mode, direction, "")
	stats := m.statistics[symbol]
	stats.Mode = mode
	stats.Direction = direction
	stats.Trades++
	if pnl >= 0 {
		stats.WinTrades++
	} else {
		stats.LossTrades++
	}
	stats.PnlUSDT += pnl
	m.mu.Unlock()

	log.Sugar().Infof("manager: trade result %s: pnl=%.4f", symbol, pnl)
	m.ScheduleRuntimeSave(symbol)
	m.risk.RegisterTradeResult(symbol, pnl)
}

// GetTotalOpenExposureUSDT sums the cost basis of every currently open
// position, used by worker entry sizing to enforce the global exposure cap.
func (m *Manager) GetTotalOpenExposureUSDT() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total float64
	for _, entry := range m.pairs {
		snap := entry.worker.RuntimeSnapshot()
		if snap.PositionOpen {
			total += snap.TotalCost
		}
	}
	return total
}

// AddPair registers a worker for symbol if one doesn't already exist, and
// returns it either way.
func (m *Manager) AddPair(symbol, mode, exchangeName string) *worker.Worker {
	symbol = normalizeSymbol(symbol)

	m.mu.Lock()
	if existing, ok := m.pairs[symbol]; ok {
		m.mu.Unlock()
		return existing.worker
	}

	settings, ok := m.pairSettings[symbol]
	if !ok {
		settings = m.defaultSettings
	}
	settings.Mode = mode
	if normalizeMode(mode) == models.ModeFutures {
		settings.EnableFutures = true
	}
	m.pairSettings[symbol] = settings
	m.ensureStatistics(symbol, mode, models.DirectionLong, exchangeName)
	m.mu.Unlock()

	ex := m.getExchange(exchangeName)
	w := worker.New(symbol, ex, m.feed, m.orders, settings, worker.Callbacks{
		OnTradeClosed: func(sym string, pnl float64, market, direction string) {
			m.RecordTrade(sym, pnl, market, direction)
		},
		OnPriceUpdate: func(sym string, price float64) {
			if m.hub != nil {
				m.hub.BroadcastPriceUpdate(sym, price)
			}
		},
		OnRuntimeUpdate: func(sym string) {
			m.broadcastRuntime(sym)
			m.ScheduleRuntimeSave(sym)
		},
	}, m.GetTotalOpenExposureUSDT)

	m.mu.Lock()
	m.pairs[symbol] = &pairEntry{worker: w, exchangeName: exchangeName, mode: mode}
	m.mu.Unlock()

	if strings.EqualFold(exchangeName, "Binance") {
		m.feed.Subscribe(symbol, settings.Timeframe)
	}
	m.savePairConfigBackground(symbol)
	m.ScheduleRuntimeSave(symbol)
	log.Sugar().Infof("manager: pair %s added (%s, %s)", symbol, mode, exchangeName)
	return w
}

func (m *Manager) broadcastRuntime(symbol string) {
	if m.hub == nil {
		return
	}
	m.mu.RLock()
	entry, ok := m.pairs[symbol]
	m.mu.RUnlock()
	if !ok {
		return
	}
	runtime := entry.worker.RuntimeSnapshot()
	m.hub.BroadcastPairUpdate(symbol, &runtime)
}

// RemovePair stops and forgets a pair entirely, deleting its persisted row.
func (m *Manager) RemovePair(ctx context.Context, symbol string) {
	symbol = normalizeSymbol(symbol)
	m.StopPair(ctx, symbol)

	m.mu.Lock()
	entry, ok := m.pairs[symbol]
	if ok {
		delete(m.pairs, symbol)
		delete(m.pairSettings, symbol)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	if strings.EqualFold(entry.exchangeName, "Binance") {
		m.feed.Unsubscribe(symbol)
	}
	if m.store != nil {
		if err := m.store.DeletePair(symbol); err != nil {
			log.Sugar().Infof("manager: delete pair %s: %v", symbol, err)
		}
	}
	log.Sugar().Infof("manager: pair %s removed", symbol)
}

// StartPair begins a pair's worker loop. No-op if already running or the
// pair is configured for backtest-only replay.
func (m *Manager) StartPair(ctx context.Context, symbol string) {
	symbol = normalizeSymbol(symbol)
	m.mu.RLock()
	entry, ok := m.pairs[symbol]
	settings := m.pairSettings[symbol]
	activeCount := m.countRunningLocked()
	m.mu.RUnlock()
	if !ok {
		log.Sugar().Infof("manager: cannot start %s: not found", symbol)
		return
	}
	if !strings.EqualFold(entry.exchangeName, "Binance") {
		log.Sugar().Infof("manager: %s not implemented yet", entry.exchangeName)
		return
	}
	if settings.RunMode == models.RunModeBacktest {
		log.Sugar().Infof("manager: pair %s is in Backtest mode, use the backtest endpoint instead", symbol)
		return
	}

	entry.worker.Start(ctx)
	if activeCount+1 > maxActivePairsWarning {
		log.Sugar().Infof("manager: warning, high load - %d active pairs", activeCount+1)
	}
	m.ScheduleRuntimeSave(symbol)
}

func (m *Manager) countRunningLocked() int {
	count := 0
	for _, entry := range m.pairs {
		if entry.worker.RuntimeSnapshot().IsRunning {
			count++
		}
	}
	return count
}

// StopPair halts a pair's worker loop without forgetting it.
func (m *Manager) StopPair(ctx context.Context, symbol string) {
	symbol = normalizeSymbol(symbol)
	m.mu.RLock()
	entry, ok := m.pairs[symbol]
	m.mu.RUnlock()
	if !ok {
		return
	}
	if entry.worker.RuntimeSnapshot().IsRunning {
		entry.worker.Stop()
	}
	m.ScheduleRuntimeSave(symbol)
}

// StopAllPairs stops every currently running pair.
func (m *Manager) StopAllPairs(ctx context.Context) {
	m.mu.RLock()
	symbols := make([]string, 0, len(m.pairs))
	for symbol := range m.pairs {
		symbols = append(symbols, symbol)
	}
	m.mu.RUnlock()

	for _, symbol := range symbols {
		m.StopPair(ctx, symbol)
	}
}

// EmergencyStop cancels every resting order across all pairs, then stops
// them all.
func (m *Manager) EmergencyStop(ctx context.Context) {
	log.Sugar().Infof("manager: emergency stop activated")
	m.mu.RLock()
	workers := make([]*worker.Worker, 0, len(m.pairs))
	for _, entry := range m.pairs {
		workers = append(workers, entry.worker)
	}
	m.mu.RUnlock()

	for _, w := range workers {
		w.CancelActiveOrder(ctx)
	}
	m.StopAllPairs(ctx)
}

// CancelPairOrders cancels every resting order for one pair.
func (m *Manager) CancelPairOrders(ctx context.Context, symbol string) {
	symbol = normalizeSymbol(symbol)
	m.mu.RLock()
	entry, ok := m.pairs[symbol]
	m.mu.RUnlock()
	if !ok {
		log.Sugar().Infof("manager: pair %s not found", symbol)
		return
	}
	entry.worker.CancelAllOrders(ctx)
}

// RefreshPairProtection re-submits a pair's exchange-side TP/SL orders.
func (m *Manager) RefreshPairProtection(ctx context.Context, symbol string) {
	symbol = normalizeSymbol(symbol)
	m.mu.RLock()
	entry, ok := m.pairs[symbol]
	m.mu.RUnlock()
	if !ok {
		log.Sugar().Infof("manager: pair %s not found", symbol)
		return
	}
	entry.worker.RefreshProtection(ctx)
}

// RunBacktest replays a pair's retained candle history through its current
// strategy settings and returns a trade report. The candle window is
// whatever the feed's ring buffer currently holds, not a full historical
// download.
func (m *Manager) RunBacktest(symbol string, settings models.StrategySettings, startUSDT float64) backtest.Report {
	symbol = normalizeSymbol(symbol)
	candles := m.feed.Candles(symbol)
	engine := backtest.NewEngine(candles)
	return engine.Run(settings, startUSDT)
}

// RunOptimization grid-searches parameterRanges against a pair's retained
// candle history, running at most maxParallel backtests concurrently, and
// returns results ranked best-first.
func (m *Manager) RunOptimization(symbol string, base models.StrategySettings, parameterRanges []backtest.ParameterRange, startUSDT float64, maxParallel int) []backtest.Result {
	symbol = normalizeSymbol(symbol)
	candles := m.feed.Candles(symbol)
	opt := backtest.NewOptimizer(maxParallel)
	return opt.RunGridSearch(candles, base, parameterRanges, startUSDT)
}

// ApplyOptimizerResult overlays a grid-search result's parameters onto a
// pair's current settings and applies them, the "apply optimizer result"
// operator action.
func (m *Manager) ApplyOptimizerResult(symbol string, result backtest.Result) models.StrategySettings {
	symbol = normalizeSymbol(symbol)
	current := m.GetPairStrategySettings(symbol)
	updated := backtest.Apply(current, result.Params)
	m.UpdatePairStrategySettings(symbol, updated)
	return updated
}

// ClosePairNow force-closes one pair's position immediately.
func (m *Manager) ClosePairNow(ctx context.Context, symbol string) {
	symbol = normalizeSymbol(symbol)
	m.mu.RLock()
	entry, ok := m.pairs[symbol]
	m.mu.RUnlock()
	if !ok {
		log.Sugar().Infof("manager: pair %s not found", symbol)
		return
	}
	entry.worker.ClosePositionNow(ctx)
}

// CloseAllPositionsNow force-closes every pair's position.
func (m *Manager) CloseAllPositionsNow(ctx context.Context) {
	m.mu.RLock()
	symbols := make([]string, 0, len(m.pairs))
	for symbol := range m.pairs {
		symbols = append(symbols, symbol)
	}
	m.mu.RUnlock()
	for _, symbol := range symbols {
		m.ClosePairNow(ctx, symbol)
	}
}

// UpdateStrategySettings replaces the default settings used for pairs
// without a pair-specific override.
func (m *Manager) UpdateStrategySettings(settings models.StrategySettings) {
	m.mu.Lock()
	m.defaultSettings = settings
	m.mu.Unlock()
	m.saveAppStateBackground()
	log.Sugar().Infof("manager: default strategy settings updated")
}

// GetPairStrategySettings returns a pair's effective settings, falling back
// to the defaults.
func (m *Manager) GetPairStrategySettings(symbol string) models.StrategySettings {
	symbol = normalizeSymbol(symbol)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if settings, ok := m.pairSettings[symbol]; ok {
		return settings
	}
	return m.defaultSettings
}

// UpdatePairStrategySettings applies new settings to a running or stopped
// pair; the worker itself decides whether to apply immediately or defer
// until the position closes.
func (m *Manager) UpdatePairStrategySettings(symbol string, settings models.StrategySettings) {
	symbol = normalizeSymbol(symbol)
	m.mu.Lock()
	m.pairSettings[symbol] = settings
	entry, ok := m.pairs[symbol]
	m.mu.Unlock()

	if ok {
		entry.worker.UpdateSettings(settings)
	}
	m.savePairConfigBackground(symbol)
	m.saveAppStateBackground()
	log.Sugar().Infof("manager: strategy updated for %s", symbol)
}

// Statistics returns a snapshot of every pair's trade statistics.
func (m *Manager) Statistics() map[string]PairStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]PairStats, len(m.statistics))
	for symbol, stats := range m.statistics {
		out[symbol] = *stats
	}
	return out
}

// ListPairs returns every known symbol's current runtime snapshot.
func (m *Manager) ListPairs() map[string]models.PairRuntime {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]models.PairRuntime, len(m.pairs))
	for symbol, entry := range m.pairs {
		out[symbol] = entry.worker.RuntimeSnapshot()
	}
	return out
}

// ResyncPairWithExchange queries the exchange for symbol's current position
// (Live run mode only), logs a query error, and schedules a runtime save. It
// does not adopt the returned position into the worker's local state.
func (m *Manager) ResyncPairWithExchange(ctx context.Context, symbol string) {
	symbol = normalizeSymbol(symbol)
	m.mu.RLock()
	entry, ok := m.pairs[symbol]
	settings := m.pairSettings[symbol]
	m.mu.RUnlock()
	if !ok || settings.RunMode != models.RunModeLive {
		return
	}

	log.Sugar().Infof("manager: resync started for %s", symbol)
	defer func() {
		m.ScheduleRuntimeSave(symbol)
		log.Sugar().Infof("manager: resync complete for %s", symbol)
	}()

	ex := m.getExchange(entry.exchangeName)
	market := exchange.MarketSpot
	if normalizeMode(settings.Mode) == models.ModeFutures {
		market = exchange.MarketFutures
	}
	if _, err := ex.GetPosition(ctx, market, symbol); err != nil {
		log.Sugar().Infof("manager: resync error for %s: %v", symbol, err)
	}
	// The worker's periodic sync only resets a local position the exchange no
	// longer holds and, in futures mode, corrects the size and average of a
	// position that is already open locally.
}

// ScheduleRuntimeSave marks symbol dirty and, if no flush is already
// pending, schedules one after runtimeSaveDebounce.
func (m *Manager) ScheduleRuntimeSave(symbol string) {
	if m.store == nil {
		return
	}
	m.dirtyMu.Lock()
	m.dirty[symbol] = true
	alreadyScheduled := m.flushScheduled
	m.flushScheduled = true
	m.dirtyMu.Unlock()

	if !alreadyScheduled {
		go m.debouncedFlush()
	}
}

func (m *Manager) debouncedFlush() {
	time.Sleep(m.runtimeSaveDebounce)

	m.dirtyMu.Lock()
	dirty := m.dirty
	m.dirty = make(map[string]bool)
	m.flushScheduled = false
	m.dirtyMu.Unlock()

	for symbol := range dirty {
		m.savePairRuntime(symbol)
	}
}

func (m *Manager) savePairRuntime(symbol string) {
	m.mu.RLock()
	entry, ok := m.pairs[symbol]
	m.mu.RUnlock()
	if !ok || m.store == nil {
		return
	}
	runtime := entry.worker.RuntimeSnapshot()
	if price, ok := m.feed.Price(symbol); ok {
		runtime.LastKnownPrice = price
	}
	if err := m.store.SavePairRuntime(symbol, runtime); err != nil {
		log.Sugar().Infof("manager: state save error for %s: %v", symbol, err)
	}
}

func (m *Manager) savePairConfigBackground(symbol string) {
	if m.store == nil {
		return
	}
	go func() {
		m.mu.RLock()
		entry, ok := m.pairs[symbol]
		settings, hasSettings := m.pairSettings[symbol]
		m.mu.RUnlock()
		if !ok || !hasSettings {
			return
		}
		config := models.PairConfig{Symbol: symbol, Exchange: entry.exchangeName, Settings: settings}
		if err := m.store.SavePairConfig(symbol, config); err != nil {
			log.Sugar().Infof("manager: state save error for %s: %v", symbol, err)
		}
	}()
}

func (m *Manager) saveAppStateBackground() {
	if m.store == nil {
		return
	}
	go func() {
		m.mu.RLock()
		encrypted := make(map[string]models.ExchangeCredentials, len(m.credentials))
		for name, creds := range m.credentials {
			encrypted[name] = m.encryptCredentials(creds)
		}
		state := models.AppState{
			AutoResumeRunningPairs: m.autoResumePairs,
			Credentials:            encrypted,
		}
		m.mu.RUnlock()
		if err := m.store.SaveAppState(state); err != nil {
			log.Sugar().Infof("manager: app state save error: %v", err)
		}
	}()
}

// Shutdown stops every pair, writes each pair's runtime snapshot, starts
// background saves of each pair's config and the app state (not awaited),
// and releases the notification forwarder.
func (m *Manager) Shutdown(ctx context.Context) {
	if m.snapshotCancel != nil {
		m.snapshotCancel()
		<-m.snapshotDone
	}

	m.StopAllPairs(ctx)

	m.mu.RLock()
	symbols := make([]string, 0, len(m.pairs))
	for symbol := range m.pairs {
		symbols = append(symbols, symbol)
	}
	m.mu.RUnlock()

	for _, symbol := range symbols {
		m.savePairConfigBackground(symbol)
		m.savePairRuntime(symbol)
	}
	m.saveAppStateBackground()
	close(m.notificationChan)
	log.Sugar().Infof("manager: shutdown complete")
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(symbol)
}

func normalizeMode(mode string) string {
	if strings.EqualFold(mode, models.ModeFutures) {
		return models.ModeFutures
	}
	return models.ModeSpot
}
