package gateway

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Target is how to dial one node.
type Target struct {
	// Addr is a gRPC dial target.
	Addr        string
	DialOptions []grpc.DialOption
}

// Resolver maps a node URI, as found in a leader hint or in ClusterInfo, to a Target.
type Resolver func(uri string) Target

// DefaultResolver dials tcp://host:port as host:port and unix:// URIs as they are, without
// transport security.
func DefaultResolver(uri string) Target {
	addr := uri
	if strings.HasPrefix(uri, "tcp://") {
		addr = strings.TrimPrefix(uri, "tcp://")
	}
	return Target{
		Addr:        addr,
		DialOptions: []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
	}
}

// Connector creates Gateways that share its resolver, options and metrics.
type Connector struct {
	resolve      Resolver
	maxRedirects int
	probeTimeout time.Duration
	dialOptions  []grpc.DialOption
	redirects    prometheus.Counter
	probes       prometheus.Counter
	logger       *zap.Logger
}

// ConnectorOption configures a Connector.
type ConnectorOption interface{ Transform(*Connector) }

/******** WithMaxRedirects ****************************************************/
type withMaxRedirects struct {
	n int
}

func (w *withMaxRedirects) Transform(c *Connector) {
	c.maxRedirects = w.n
}

// WithMaxRedirects bounds the number of redirects a single call may follow.
func WithMaxRedirects(n int) ConnectorOption {
	return &withMaxRedirects{n: n}
}

/******** WithProbeTimeout ****************************************************/
type withProbeTimeout struct {
	d time.Duration
}

func (w *withProbeTimeout) Transform(c *Connector) {
	c.probeTimeout = w.d
}

// WithProbeTimeout bounds how long a hint-less redirect waits for members to report a leader.
func WithProbeTimeout(d time.Duration) ConnectorOption {
	return &withProbeTimeout{d: d}
}

/******** WithDialOptions *****************************************************/
type withDialOptions struct {
	opts []grpc.DialOption
}

func (w *withDialOptions) Transform(c *Connector) {
	c.dialOptions = append(c.dialOptions, w.opts...)
}

// WithDialOptions adds dial options used for every node, before the Target's own.
func WithDialOptions(opts ...grpc.DialOption) ConnectorOption {
	return &withDialOptions{opts: opts}
}

/******** WithLogger **********************************************************/
type withLogger struct {
	logger *zap.Logger
}

func (w *withLogger) Transform(c *Connector) {
	c.logger = w.logger
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ConnectorOption {
	return &withLogger{logger: logger}
}

// NewConnector creates a Connector. A nil resolve uses DefaultResolver.
func NewConnector(resolve Resolver, opts ...ConnectorOption) *Connector {
	if resolve == nil {
		resolve = DefaultResolver
	}
	c := &Connector{
		resolve:      resolve,
		maxRedirects: 5,
		probeTimeout: time.Second,
		redirects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raftlog",
			Subsystem: "gateway",
			Name:      "redirects_total",
			Help:      "Number of calls retried against another node",
		}),
		probes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raftlog",
			Subsystem: "gateway",
			Name:      "probes_total",
			Help:      "Number of times members were probed for the leader",
		}),
	}
	for _, opt := range opts {
		opt.Transform(c)
	}
	return c
}

// Connect returns a Gateway whose first endpoint is the node at uri. Further members, if
// known, are probed for the leader until the gateway learns the membership from the cluster.
func (c *Connector) Connect(uri string, members ...string) *Gateway {
	return newGateway(c, uri, members)
}

// Collectors returns the connector's metrics, to be registered by the caller.
func (c *Connector) Collectors() []prometheus.Collector {
	return []prometheus.Collector{c.redirects, c.probes}
}

func (c *Connector) l() bool {
	return c.logger != nil
}
