package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricOrdersPlacedTotal   = "perpmm_orders_placed_total"
	MetricOrdersCanceledTotal = "perpmm_orders_canceled_total"
	MetricFillsTotal          = "perpmm_fills_total"
	MetricMakerVolumeTotal    = "perpmm_maker_volume_total"
	MetricRebatesTotal        = "perpmm_rebates_total"
	MetricHedgeFailuresTotal  = "perpmm_hedge_failures_total"
	MetricOrdersActive        = "perpmm_orders_active"
	MetricPositionSize        = "perpmm_position_size"
	MetricVolatilityBps       = "perpmm_volatility_bps"
	MetricNetExposure         = "perpmm_net_exposure"
	MetricUptimeTier          = "perpmm_uptime_tier"
	MetricEnginePaused        = "perpmm_engine_paused"
	MetricTickDuration        = "perpmm_tick_duration_ms"
	MetricLatencyExchange     = "perpmm_latency_exchange_ms"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	OrdersPlacedTotal   metric.Int64Counter
	OrdersCanceledTotal metric.Int64Counter
	FillsTotal          metric.Int64Counter
	MakerVolumeTotal    metric.Float64Counter
	RebatesTotal        metric.Float64Counter
	HedgeFailuresTotal  metric.Int64Counter
	OrdersActive        metric.Int64ObservableGauge
	PositionSize        metric.Float64ObservableGauge
	VolatilityBps       metric.Float64ObservableGauge
	NetExposure         metric.Float64ObservableGauge
	UptimeTier          metric.Int64ObservableGauge
	EnginePaused        metric.Int64ObservableGauge
	TickDuration        metric.Float64Histogram
	LatencyExchange     metric.Float64Histogram

	// State for observable gauges
	mu              sync.RWMutex
	activeOrdersMap map[string]int64
	positionSizeMap map[string]float64
	volatilityMap   map[string]float64
	netExposureMap  map[string]float64
	uptimeTierMap   map[string]int64
	pausedMap       map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			activeOrdersMap: make(map[string]int64),
			positionSizeMap: make(map[string]float64),
			volatilityMap:   make(map[string]float64),
			netExposureMap:  make(map[string]float64),
			uptimeTierMap:   make(map[string]int64),
			pausedMap:       make(map[string]int64),
		}
		// Instruments are initialized in InitMetrics
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal, metric.WithDescription("Total orders placed"))
	if err != nil {
		return err
	}

	m.OrdersCanceledTotal, err = meter.Int64Counter(MetricOrdersCanceledTotal, metric.WithDescription("Total orders canceled"))
	if err != nil {
		return err
	}

	m.FillsTotal, err = meter.Int64Counter(MetricFillsTotal, metric.WithDescription("Total fills applied after dedup"))
	if err != nil {
		return err
	}

	m.MakerVolumeTotal, err = meter.Float64Counter(MetricMakerVolumeTotal, metric.WithDescription("Total maker volume in quote currency"))
	if err != nil {
		return err
	}

	m.RebatesTotal, err = meter.Float64Counter(MetricRebatesTotal, metric.WithDescription("Total maker rebates received"))
	if err != nil {
		return err
	}

	m.HedgeFailuresTotal, err = meter.Int64Counter(MetricHedgeFailuresTotal, metric.WithDescription("Total hedge submissions that exhausted retries"))
	if err != nil {
		return err
	}

	m.TickDuration, err = meter.Float64Histogram(MetricTickDuration, metric.WithDescription("Executor tick duration"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.LatencyExchange, err = meter.Float64Histogram(MetricLatencyExchange, metric.WithDescription("Latency of exchange API calls"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	// Observables
	m.OrdersActive, err = meter.Int64ObservableGauge(MetricOrdersActive, metric.WithDescription("Number of currently open orders"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.activeOrdersMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.PositionSize, err = meter.Float64ObservableGauge(MetricPositionSize, metric.WithDescription("Current signed position size"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.positionSizeMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.VolatilityBps, err = meter.Float64ObservableGauge(MetricVolatilityBps, metric.WithDescription("Current rolling-window volatility in basis points"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.volatilityMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.NetExposure, err = meter.Float64ObservableGauge(MetricNetExposure, metric.WithDescription("Primary plus hedge net exposure"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.netExposureMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.UptimeTier, err = meter.Int64ObservableGauge(MetricUptimeTier, metric.WithDescription("Current uptime-program tier (0=out, 1=basic, 2=standard, 3=boosted)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.uptimeTierMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.EnginePaused, err = meter.Int64ObservableGauge(MetricEnginePaused, metric.WithDescription("Engine paused state (1=paused, 0=running)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.pausedMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

func (m *MetricsHolder) SetActiveOrders(symbol string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeOrdersMap[symbol] = count
}

func (m *MetricsHolder) SetPositionSize(symbol string, size float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positionSizeMap[symbol] = size
}

func (m *MetricsHolder) SetVolatilityBps(symbol string, bps float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volatilityMap[symbol] = bps
}

func (m *MetricsHolder) SetNetExposure(symbol string, net float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.netExposureMap[symbol] = net
}

func (m *MetricsHolder) SetUptimeTier(symbol string, tier int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uptimeTierMap[symbol] = tier
}

func (m *MetricsHolder) SetEnginePaused(symbol string, paused bool) {
	val := int64(0)
	if paused {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pausedMap[symbol] = val
}

func (m *MetricsHolder) GetActiveOrders() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64)
	for k, v := range m.activeOrdersMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetPositionSize() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64)
	for k, v := range m.positionSizeMap {
		res[k] = v
	}
	return res
}
