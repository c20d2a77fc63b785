package app

import (
	"context"
	"errors"
	"log/slog"

	"esa_go/internal/auth"
	"esa_go/internal/cache"
	"esa_go/internal/domain"
	"esa_go/internal/esa"
	"esa_go/internal/infra"
	"esa_go/internal/infra/kafka"
	"esa_go/internal/infra/storage"
	"esa_go/internal/infra/transport"
	"esa_go/internal/protocol"
	"esa_go/internal/service"
	"esa_go/internal/stream"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config   *infra.Config
	Metrics  *infra.Metrics
	Service  *service.StreamingService
	Client   *stream.Client
	Store    *storage.FrameStore
	Recorder *storage.Recorder
	Producer *kafka.Producer

	cancels []func()
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads the configuration and builds every component. Nothing
// touches the network until Start.
func (b *Bootstrap) Initialize(configPath string) error {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	return b.InitializeWithConfig(cfg)
}

// InitializeWithConfig builds every component from an already loaded config.
func (b *Bootstrap) InitializeWithConfig(cfg *infra.Config) error {
	b.Config = cfg

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)
	slog.Info("🚀 Bootstrapping ESA stream client...", slog.String("version", cfg.App.Version))

	b.Metrics = infra.NewMetrics()

	b.Service = service.NewStreamingService(b.Metrics, service.Options{
		MarketDataFilter:  b.marketDataFilter(),
		KeepClosedMarkets: !*cfg.Cache.RemoveOnClose,
		OnErrorStatus: func(msg *esa.StatusMessage) {
			slog.Error("Stream reported an error", slog.String("error_code", msg.ErrorCode), slog.String("error", msg.ErrorMessage))
		},
	})

	if cfg.Recorder.Enabled {
		if err := b.openStore(); err != nil {
			return err
		}
		b.Recorder = storage.NewRecorder(b.Store, 4096)
		slog.Info("✅ Frame recorder ready", slog.String("path", cfg.Recorder.Path))
	}

	if cfg.Kafka.Enabled {
		b.Producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		slog.Info("✅ Kafka sink ready", slog.String("topic", cfg.Kafka.Topic))
	}

	b.Client = stream.NewClient(b.Dialer(), b.SessionProvider(), b.Service, b.Metrics, stream.Options{
		ConflateMs:          cfg.Stream.ConflateMs,
		HeartbeatMs:         cfg.Stream.HeartbeatMs,
		SegmentationEnabled: cfg.Stream.SegmentationEnabled,
		KeepAlive:           cfg.KeepAlive(),
		TraceTruncation:     cfg.Stream.TraceTruncation,
	})
	b.Service.Bind(b.Client)
	return nil
}

func (b *Bootstrap) openStore() error {
	if b.Store != nil {
		return nil
	}
	store, err := storage.NewFrameStore(b.Config.Recorder.Path)
	if err != nil {
		return err
	}
	b.Store = store
	return nil
}

// Dialer returns the configured transport, wrapped by the recorder when enabled.
func (b *Bootstrap) Dialer() protocol.Dialer {
	cfg := b.Config
	timeout := cfg.DialTimeout()

	var d protocol.Dialer
	if cfg.Stream.WSURL != "" {
		d = &transport.WSDialer{URL: cfg.Stream.WSURL, Timeout: timeout}
	} else {
		d = &transport.TLSDialer{Addr: cfg.StreamAddr(), Timeout: timeout}
	}
	if b.Recorder != nil {
		d = b.Recorder.Wrap(d)
	}
	return d
}

// SessionProvider prefers a configured session token over interactive login.
func (b *Bootstrap) SessionProvider() auth.SessionProvider {
	cfg := b.Config
	if cfg.Auth.SessionToken != "" {
		return auth.NewStaticProvider(cfg.Auth.AppKey, cfg.Auth.SessionToken)
	}
	p := auth.NewSSOProvider(cfg.Auth.SSOHost, cfg.Auth.AppKey, cfg.Auth.Username, cfg.Auth.Password)
	p.SessionExpireTime = cfg.SessionExpire()
	return p
}

func (b *Bootstrap) marketDataFilter() *esa.MarketDataFilter {
	sub := b.Config.Subscription
	if len(sub.Fields) == 0 && sub.LadderLevels == 0 {
		return nil
	}
	return &esa.MarketDataFilter{Fields: sub.Fields, LadderLevels: sub.LadderLevels}
}

// marketFilter returns a filter-based subscription, or nil when the config
// only lists explicit market ids.
func (b *Bootstrap) marketFilter() *esa.MarketFilter {
	sub := b.Config.Subscription
	if len(sub.EventTypeIDs) == 0 && len(sub.MarketTypes) == 0 && len(sub.CountryCodes) == 0 {
		return nil
	}
	return &esa.MarketFilter{
		MarketIDs:    sub.MarketIDs,
		EventTypeIDs: sub.EventTypeIDs,
		MarketTypes:  sub.MarketTypes,
		CountryCodes: sub.CountryCodes,
	}
}

// AttachSinks registers the snapshot sink on the market cache.
func (b *Bootstrap) AttachSinks(ctx context.Context) {
	var publisher SnapshotPublisher
	if b.Producer != nil {
		publisher = b.Producer
	}
	sink := NewSnapshotSink(ctx, publisher)
	b.cancels = append(b.cancels,
		b.Service.Markets().OnMarketChanged(sink.OnMarketChanged),
		b.Service.Markets().OnBatchMarketsChanged(sink.OnBatchMarketsChanged),
	)
}

// Start connects and issues the configured subscriptions. Subscriptions
// made before the first connection is up are sent once it is.
func (b *Bootstrap) Start(ctx context.Context) error {
	b.AttachSinks(ctx)

	if err := b.Client.Start(ctx); err != nil {
		return err
	}

	if filter := b.marketFilter(); filter != nil {
		msg := &esa.MarketSubscriptionMessage{MarketFilter: filter, MarketDataFilter: b.marketDataFilter()}
		if err := b.Client.SubscribeMarkets(ctx, msg); err != nil && !errors.Is(err, domain.ErrNotConnected) {
			return err
		}
	} else {
		for _, id := range b.Config.Subscription.MarketIDs {
			sub, err := b.Service.SubscribeMarket(ctx, id)
			if err != nil {
				return err
			}
			go b.watch(ctx, id, sub)
		}
	}

	if b.Config.Subscription.Orders {
		if err := b.Client.SubscribeOrders(ctx, &esa.OrderSubscriptionMessage{}); err != nil && !errors.Is(err, domain.ErrNotConnected) {
			return err
		}
	}
	return nil
}

func (b *Bootstrap) watch(ctx context.Context, marketID string, sub *service.Subscription[*cache.MarketSnap]) {
	defer sub.Close()
	updates := 0
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-sub.C:
			if !ok {
				slog.Info("Market stream completed", slog.String("market_id", marketID), slog.Int("updates", updates))
				return
			}
			updates++
			if snap.IsClosed {
				slog.Info("Final market snapshot", slog.String("market_id", marketID), slog.Float64("traded_volume", snap.TradedVolume))
			}
		}
	}
}

// Replay feeds a recorded connection through the service instead of
// connecting. Connection 0 selects the latest recorded connection.
func (b *Bootstrap) Replay(ctx context.Context, connection uint64) (protocol.ReplayStats, error) {
	if err := b.openStore(); err != nil {
		return protocol.ReplayStats{}, err
	}
	if connection == 0 {
		latest, err := b.Store.LatestConnection(ctx)
		if err != nil {
			return protocol.ReplayStats{}, err
		}
		connection = latest
	}

	lines, err := b.Store.InboundLines(ctx, connection)
	if err != nil {
		return protocol.ReplayStats{}, err
	}
	slog.Info("🔁 Replaying recorded connection", slog.Uint64("connection", connection), slog.Int("lines", len(lines)))

	p := protocol.NewProcessor(b.Service, b.Metrics)
	return protocol.NewReplayer(p).Replay(ctx, lines)
}

// Shutdown stops the stream and flushes every sink.
func (b *Bootstrap) Shutdown() {
	if b.Client != nil {
		b.Client.Stop()
	}
	for _, cancel := range b.cancels {
		cancel()
	}
	if b.Service != nil {
		b.Service.Close()
	}
	if b.Recorder != nil {
		b.Recorder.Close()
	}
	if b.Store != nil {
		if err := b.Store.Close(); err != nil {
			slog.Warn("Frame store close failed", slog.Any("error", err))
		}
	}
	if b.Producer != nil {
		if err := b.Producer.Close(); err != nil {
			slog.Warn("Kafka producer close failed", slog.Any("error", err))
		}
	}
}
