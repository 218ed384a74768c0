package stream

import (
	"os"
	"time"
)

// Option configures the stream client.
type Option func(*options)

type options struct {
	logger   Logger
	baseURL  string
	apiKey   string
	hostname string

	// reconnect policy
	reconnectLimit      int
	reconnectInitial    time.Duration
	reconnectMultiplier float64
	reconnectMax        time.Duration

	heartbeatInterval time.Duration
	processorCount    int
	bufferSize        int

	consumerQueueSize int
	blockTimeout      time.Duration
	maxSymbolsPerSet  int

	// placeholder subscription sent when the connection opens before any
	// consumer subscribed. The server closes connections that stay
	// silent, so by default an all-ticks subscription goes out.
	placeholderChannel  Channel
	placeholderSymbols  []string
	placeholderDisabled bool

	orderHistoryDepth int
	idleEvictTTL      time.Duration

	// for testing only
	connCreator connCreator
}

func defaultOptions() *options {
	baseURL := "wss://www.algolab.com.tr/api"
	if s := os.Getenv("ALGOLAB_STREAM_URL"); s != "" {
		baseURL = s
	}
	// The hostname fallback chain must match the REST client's so both
	// sides sign the Checker over the same string.
	hostname := os.Getenv("ALGOLAB_HOSTNAME")
	if hostname == "" {
		if s := os.Getenv("ALGOLAB_BASE_URL"); s != "" {
			hostname = s
		} else {
			hostname = "https://www.algolab.com.tr"
		}
	}

	return &options{
		logger:   DefaultLogger(),
		baseURL:  baseURL,
		apiKey:   os.Getenv("ALGOLAB_API_KEY"),
		hostname: hostname,

		reconnectLimit:      0, // unlimited
		reconnectInitial:    time.Second,
		reconnectMultiplier: 2,
		reconnectMax:        time.Minute,

		heartbeatInterval: 15 * time.Minute,
		processorCount:    1,
		bufferSize:        4096,

		consumerQueueSize: 1024,
		blockTimeout:      5 * time.Second,
		maxSymbolsPerSet:  512,

		placeholderChannel: ChannelTick,
		placeholderSymbols: []string{SymbolAll},

		orderHistoryDepth: 64,
		idleEvictTTL:      time.Minute,

		connCreator: newNhooyrWebsocketConn,
	}
}

func (o *options) apply(opts ...Option) {
	for _, opt := range opts {
		opt(o)
	}
}

// WithLogger configures the logger.
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithBaseURL configures the stream endpoint root. The /ws path is
// appended by the client.
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.baseURL = url
	}
}

// WithSigningKeys configures the API key and hostname used for the
// signed handshake headers.
func WithSigningKeys(apiKey, hostname string) Option {
	return func(o *options) {
		if apiKey != "" {
			o.apiKey = apiKey
		}
		if hostname != "" {
			o.hostname = hostname
		}
	}
}

// WithReconnectSettings configures the reconnect policy: up to limit
// consecutive failed attempts (0 means unlimited) with delays growing
// from initial by multiplier per attempt, capped at max. Jitter of
// ±20% is always applied.
func WithReconnectSettings(limit int, initial time.Duration, multiplier float64, max time.Duration) Option {
	return func(o *options) {
		o.reconnectLimit = limit
		if initial > 0 {
			o.reconnectInitial = initial
		}
		if multiplier >= 1 {
			o.reconnectMultiplier = multiplier
		}
		if max > 0 {
			o.reconnectMax = max
		}
	}
}

// WithHeartbeatInterval configures how often the liveness frame is
// sent. It must stay below the server's idle close threshold.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.heartbeatInterval = d
		}
	}
}

// WithProcessors configures how many goroutines decode and dispatch
// incoming frames. Increasing this past 1 gives up the per-symbol
// delivery ordering guarantee.
func WithProcessors(count int) Option {
	return func(o *options) {
		if count > 0 {
			o.processorCount = count
		}
	}
}

// WithBufferSize sets the size of the raw inbound message buffer
// between the connection reader and the frame processors.
func WithBufferSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.bufferSize = size
		}
	}
}

// WithConsumerQueueSize sets the per-consumer frame queue capacity.
func WithConsumerQueueSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.consumerQueueSize = size
		}
	}
}

// WithBlockTimeout sets how long an order status delivery may block on
// a full consumer queue before the consumer is disconnected.
func WithBlockTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.blockTimeout = d
		}
	}
}

// WithPlaceholderSubscription configures the subscription sent right
// after connecting when no consumer has subscribed yet.
func WithPlaceholderSubscription(ch Channel, symbols ...string) Option {
	return func(o *options) {
		o.placeholderChannel = ch
		o.placeholderSymbols = symbols
		o.placeholderDisabled = false
	}
}

// WithoutPlaceholder disables the placeholder subscription. With no
// consumer subscriptions the server will then close the idle
// connection naturally and the client will reconnect on demand; this
// trades a quiet wire for reconnect churn and is a deliberate choice.
func WithoutPlaceholder() Option {
	return func(o *options) {
		o.placeholderDisabled = true
	}
}

// WithIdleEvictTTL sets how long an unreferenced buffer entry survives
// without reads before the janitor removes it.
func WithIdleEvictTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.idleEvictTTL = d
		}
	}
}

func withConnCreator(creator connCreator) Option {
	return func(o *options) {
		o.connCreator = creator
	}
}
