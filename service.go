package osip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/glimte/osip-go/config"
	"github.com/glimte/osip-go/health"
	"github.com/glimte/osip-go/interceptors"
	"github.com/glimte/osip-go/internal/rabbitmq"
	"github.com/glimte/osip-go/internal/reliability"
	"github.com/glimte/osip-go/internal/replycache"
	"github.com/glimte/osip-go/messaging"
	"github.com/glimte/osip-go/monitor"
	"github.com/glimte/osip-go/serialization"
	"github.com/glimte/osip-go/telegrams"
	kafkatransport "github.com/glimte/osip-go/transports/kafka"
	rabbitmqtransport "github.com/glimte/osip-go/transports/rabbitmq"
	"github.com/glimte/osip-go/transports/tcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// Service wires the codec, dispatcher, worker pool and transports of one
// osipd process. Handlers are registered between NewService and Run.
type Service struct {
	cfg        *config.Config
	logger     *slog.Logger
	codec      *serialization.TelegramCodec
	dispatcher *messaging.Dispatcher
	pool       *messaging.Pool
	breaker    *reliability.CircuitBreaker
	metrics    *monitor.PrometheusCollector
	gatherer   prometheus.Gatherer
	health     *health.Registry
	listener   net.Listener
	closers    []io.Closer
}

// ServiceOption configures the Service
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	logger       *slog.Logger
	registry     *prometheus.Registry
	listener     net.Listener
	variants     []func(*serialization.RegistryBuilder) error
	validator    interceptors.TelegramValidator
	interceptors []interceptors.Interceptor
}

// WithLogger sets the logger of every component
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// WithPrometheusRegistry registers metrics with reg instead of a fresh registry
func WithPrometheusRegistry(reg *prometheus.Registry) ServiceOption {
	return func(o *serviceOptions) {
		o.registry = reg
	}
}

// WithTCPListener serves the TCP transport on ln instead of the configured address
func WithTCPListener(ln net.Listener) ServiceOption {
	return func(o *serviceOptions) {
		o.listener = ln
	}
}

// WithVariants registers additional telegram variants
func WithVariants(register func(*serialization.RegistryBuilder) error) ServiceOption {
	return func(o *serviceOptions) {
		o.variants = append(o.variants, register)
	}
}

// WithValidator rejects telegrams before their handler runs
func WithValidator(validator interceptors.TelegramValidator) ServiceOption {
	return func(o *serviceOptions) {
		o.validator = validator
	}
}

// WithInterceptor appends an interceptor to the handler chain
func WithInterceptor(interceptor interceptors.Interceptor) ServiceOption {
	return func(o *serviceOptions) {
		o.interceptors = append(o.interceptors, interceptor)
	}
}

// NewService builds the processing core from cfg. The reply cache backend is
// connected here; broker transports connect in Run.
func NewService(ctx context.Context, cfg *config.Config, options ...ServiceOption) (*Service, error) {
	opts := &serviceOptions{logger: slog.Default()}
	for _, opt := range options {
		opt(opts)
	}
	if opts.registry == nil {
		opts.registry = prometheus.NewRegistry()
		opts.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	s := &Service{
		cfg:      cfg,
		logger:   opts.logger.With("service", cfg.Service.Name),
		gatherer: opts.registry,
		health:   health.NewRegistry(),
		listener: opts.listener,
	}
	s.health.SetMetadata("service", cfg.Service.Name)

	codec, err := s.buildCodec(opts.variants)
	if err != nil {
		return nil, err
	}
	s.codec = codec

	s.metrics = monitor.NewPrometheusCollector(opts.registry)

	chain := interceptors.NewDefaultInterceptorChainBuilder(s.logger).WithLogging()
	if opts.validator != nil {
		chain.WithValidation(opts.validator)
	}
	for _, i := range opts.interceptors {
		chain.WithCustom(i)
	}
	if !cfg.Breaker.Disabled {
		s.breaker = reliability.NewCircuitBreaker(
			reliability.WithName("handlers"),
			reliability.WithFailureThreshold(cfg.Breaker.FailureThreshold),
			reliability.WithSuccessThreshold(cfg.Breaker.SuccessThreshold),
			reliability.WithOpenTimeout(cfg.Breaker.OpenTimeout),
			reliability.WithBreakerLogger(s.logger),
			reliability.WithListener(s.metrics),
		)
		chain.WithCircuitBreaker(s.breaker)
		s.health.Register(health.NewBreakerChecker(s.breaker))
	}

	dispatcherOpts := []messaging.DispatcherOption{
		messaging.WithDispatcherLogger(s.logger),
		messaging.WithMiddleware(chain.Build().Middleware()...),
		messaging.WithProcessingTimeout(cfg.Service.ProcessingTimeout),
		messaging.WithMetrics(s.metrics),
	}
	cache, err := s.buildReplyCache(ctx)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		dispatcherOpts = append(dispatcherOpts, messaging.WithReplyCache(cache))
	}

	s.dispatcher = messaging.NewDispatcher(codec, dispatcherOpts...)
	s.pool = messaging.NewPool(s.dispatcher,
		messaging.WithLanes(cfg.Service.Lanes),
		messaging.WithLaneSize(cfg.Service.LaneSize),
		messaging.WithPoolLogger(s.logger),
	)
	s.metrics.WatchPool("telegrams", s.pool)
	s.health.Register(health.NewPoolChecker(s.pool, 0.8))

	return s, nil
}

func (s *Service) buildCodec(extra []func(*serialization.RegistryBuilder) error) (*serialization.TelegramCodec, error) {
	layout, err := s.cfg.HeaderLayout()
	if err != nil {
		return nil, err
	}
	header, err := serialization.NewHeaderCodec(layout)
	if err != nil {
		return nil, err
	}

	builder := serialization.NewRegistryBuilder()
	if err := telegrams.Register(builder); err != nil {
		return nil, err
	}
	if s.cfg.Service.Variants != "" {
		table, err := config.LoadVariantsFile(s.cfg.Service.Variants)
		if err != nil {
			return nil, err
		}
		if err := table.Register(builder); err != nil {
			return nil, err
		}
	}
	for _, register := range extra {
		if err := register(builder); err != nil {
			return nil, err
		}
	}

	return serialization.NewTelegramCodec(header, builder.Build()), nil
}

func (s *Service) buildReplyCache(ctx context.Context) (messaging.ReplyCache, error) {
	switch s.cfg.ReplyCache.Backend {
	case "memory":
		return replycache.NewMemory(s.cfg.ReplyCache.TTL, s.cfg.ReplyCache.TTL), nil
	case "redis":
		client, err := replycache.NewClient(ctx, s.cfg.Redis.Addr, s.cfg.Redis.Password, s.cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, client)
		s.health.Register(health.NewRedisChecker(client))
		return replycache.NewRedis(client, s.cfg.ReplyCache.TTL), nil
	default:
		return nil, nil
	}
}

// Handle registers the handler of one telegram type
func (s *Service) Handle(telegramType string, handler messaging.Handler) error {
	return s.dispatcher.RegisterHandler(telegramType, handler)
}

// HandleFunc registers a handler function for one telegram type
func (s *Service) HandleFunc(telegramType string, handler messaging.HandlerFunc) error {
	return s.dispatcher.RegisterHandlerFunc(telegramType, handler)
}

// Codec returns the telegram codec built from the configuration
func (s *Service) Codec() *serialization.TelegramCodec {
	return s.codec
}

// Dispatcher returns the dispatcher, for direct in-process use
func (s *Service) Dispatcher() *messaging.Dispatcher {
	return s.dispatcher
}

// Health returns the health registry
func (s *Service) Health() *health.Registry {
	return s.health
}

// Run starts the worker pool, the ops HTTP server and every enabled transport,
// and blocks until ctx is done or one of them fails.
func (s *Service) Run(ctx context.Context) error {
	defer s.close()

	var runners []func(context.Context) error

	if s.cfg.RabbitMQ.Enabled {
		transport, err := s.rabbitMQTransport(ctx)
		if err != nil {
			return err
		}
		runners = append(runners, transport.Run)
	}
	if s.cfg.Kafka.Enabled {
		runners = append(runners, s.kafkaTransport().Run)
	}
	if s.cfg.TCP.Enabled {
		server := tcp.NewServer(s.codec.HeaderCodec(), s.pool,
			tcp.WithReadTimeout(s.cfg.TCP.ReadTimeout),
			tcp.WithWriteTimeout(s.cfg.TCP.WriteTimeout),
			tcp.WithServerLogger(s.logger),
		)
		runners = append(runners, func(ctx context.Context) error {
			if s.listener != nil {
				return server.Serve(ctx, s.listener)
			}
			return server.ListenAndServe(ctx, s.cfg.TCP.Addr)
		})
	}
	if s.cfg.HTTP.Addr != "" {
		runners = append(runners, s.serveHTTP)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.pool.Run(gctx)
	})
	for _, run := range runners {
		run := run
		g.Go(func() error {
			return run(gctx)
		})
	}

	s.logger.Info("osip service started",
		"types", s.codec.Registry().ListTypes(),
		"handled", s.dispatcher.HandledTypes(),
	)

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Service) serveHTTP(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.HTTP.Addr,
		Handler:           health.NewRouter(s.health, s.gatherer, s.cfg.HTTP.HealthTimeout),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("ops http server listening", "addr", s.cfg.HTTP.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ops http server: %w", err)
	}
	return nil
}

func (s *Service) rabbitMQTransport(ctx context.Context) (*rabbitmqtransport.Transport, error) {
	cfg := s.cfg.RabbitMQ

	conn := rabbitmq.NewConnectionManager(cfg.URL, rabbitmq.WithConnectionLogger(s.logger))
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}
	s.closers = append(s.closers, conn)
	s.health.Register(health.NewPingChecker("rabbitmq", conn))

	channels, err := rabbitmq.NewChannelPool(conn,
		rabbitmq.WithMaxChannels(cfg.MaxChannels),
		rabbitmq.WithChannelLogger(s.logger),
	)
	if err != nil {
		return nil, err
	}
	s.closers = append([]io.Closer{channels}, s.closers...)

	consumer := rabbitmq.NewConsumer(channels,
		rabbitmq.WithPrefetchCount(cfg.Prefetch),
		rabbitmq.WithConsumerTag(s.cfg.Service.Name),
		rabbitmq.WithConsumerLogger(s.logger),
	)
	publisher := rabbitmq.NewPublisher(channels, rabbitmq.WithPublisherLogger(s.logger))

	options := []rabbitmqtransport.TransportOption{rabbitmqtransport.WithTransportLogger(s.logger)}
	if cfg.ReplyExchange != "" || cfg.ReplyRoutingKey != "" {
		options = append(options, rabbitmqtransport.WithReplyRoute(cfg.ReplyExchange, cfg.ReplyRoutingKey))
	}
	return rabbitmqtransport.NewTransport(cfg.Queue, consumer, publisher, s.pool, options...), nil
}

func (s *Service) kafkaTransport() *kafkatransport.Transport {
	cfg := s.cfg.Kafka

	reader := kafkatransport.NewReader(kafkatransport.Config{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: cfg.GroupID,
	})
	replies := kafkatransport.NewWriter(cfg.Brokers, cfg.ReplyTopic)
	s.closers = append(s.closers, reader, replies)

	s.health.Register(health.NewComponentChecker("kafka", func(context.Context) (health.Status, string, error) {
		stats := reader.Stats()
		if stats.Errors > 0 {
			return health.StatusDegraded, fmt.Sprintf("%d fetch errors, lag %d", stats.Errors, stats.Lag), nil
		}
		return health.StatusHealthy, fmt.Sprintf("lag %d", stats.Lag), nil
	}))

	options := []kafkatransport.TransportOption{kafkatransport.WithTransportLogger(s.logger)}
	if cfg.DeadLetterTopic != "" {
		dlq := kafkatransport.NewWriter(cfg.Brokers, cfg.DeadLetterTopic)
		s.closers = append(s.closers, dlq)
		options = append(options, kafkatransport.WithDeadLetterWriter(dlq))
	}
	return kafkatransport.NewTransport(reader, replies, s.pool, options...)
}

func (s *Service) close() {
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			s.logger.Warn("failed to close component", "error", err)
		}
	}
	s.closers = nil
}
