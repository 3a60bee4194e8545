package raknet

type options struct {
	cfg    Config
	logger Logger

	onConnect    func(*Session)
	onPayload    func(*Session, []byte)
	onDisconnect func(*Session, error)
}

// Option configures an Endpoint.
type Option func(*options)

func newOptions(opts []Option) (options, error) {
	o := options{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = defaultLogger()
	}
	return o, o.cfg.Validate()
}

func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// OnConnect is called once a session completes its connection handshake.
func OnConnect(fn func(*Session)) Option {
	return func(o *options) {
		o.onConnect = fn
	}
}

// OnPayload receives every application payload in delivery order. Without
// it payloads are queued for Session.Recv.
func OnPayload(fn func(*Session, []byte)) Option {
	return func(o *options) {
		o.onPayload = fn
	}
}

// OnDisconnect is called once per session with the reason it closed.
func OnDisconnect(fn func(*Session, error)) Option {
	return func(o *options) {
		o.onDisconnect = fn
	}
}
