package raft

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/ulysseses/raftlog/pb"
	"github.com/ulysseses/raftlog/storage"
)

/*************************************************************************************************/

// ProtocolConfig configures the Raft protocol of the Raft cluster.
type ProtocolConfig struct {
	// ID of the Raft node.
	ID uint64

	// TickPeriod is the period of tiem at which the ticker should fire.
	TickPeriod time.Duration

	// HeartbeatTicks is the number of tick periods before a heartbeat
	// should fire.
	// MinElectionTicks is the minimum number of tick periods before an
	// election timeout should fire.
	// MaxElectionTicks is the maximum number of tick periods before an
	// election timeout should fire.
	HeartbeatTicks, MinElectionTicks, MaxElectionTicks uint

	// MaxEntriesPerMsg bounds the number of entries sent in one append message.
	MaxEntriesPerMsg uint64

	// Storage holds the log and the ballot. If nil, a fresh MemoryStorage is used.
	Storage storage.Storage

	// HeartbeatTicker is the ticker to use for signaling when to send out heartbeats. If nil,
	// a default one based on TickPeriod and HeartbeatTicks is created and used.
	// ElectionTicker is the ticker to use for signaling when to timeout an election. If nil,
	// a default one based on TickPeriod, MinElectionTicks, and MaxElectionTicks is created and used.
	HeartbeatTicker, ElectionTicker Ticker

	// Logger, if provided, will be used to log events.
	Logger *zap.Logger

	// Debug, if true, will log events at the DEBUG verbosity/granularity.
	Debug bool
}

// Verify verifies that the configuration is correct.
func (c *ProtocolConfig) Verify() error {
	if c.ID == 0 {
		return fmt.Errorf("ID must specified and not zero")
	}
	if c.TickPeriod <= 0 {
		return fmt.Errorf("TickPeriod must be greater than 0")
	}
	if c.MinElectionTicks == 0 {
		return fmt.Errorf("MinElectionTicks cannot be 0")
	}
	if c.MaxElectionTicks < c.MinElectionTicks {
		return fmt.Errorf("MaxElectionTicks cannot be less than MinElectionTicks")
	}
	if c.HeartbeatTicks == 0 {
		return fmt.Errorf("HeartbeatTicks cannot be 0")
	}
	if c.HeartbeatTicks >= c.MinElectionTicks {
		return fmt.Errorf("HeartbeatTicks cannot be greater than or equal to MinElectionTicks")
	}
	if c.MaxEntriesPerMsg == 0 {
		return fmt.Errorf("MaxEntriesPerMsg cannot be 0")
	}
	return nil
}

// Build builds a ProtocolStateMachine from configuration. The ballot and the bounds of the
// log are recovered from Storage.
func (c *ProtocolConfig) Build(tr Transport) (*ProtocolStateMachine, error) {
	if err := c.Verify(); err != nil {
		return nil, err
	}

	heartbeatTicker := c.HeartbeatTicker
	electionTicker := c.ElectionTicker
	if heartbeatTicker == nil {
		heartbeatTicker = newHeartbeatTicker(c.TickPeriod, c.HeartbeatTicks)
	}
	if electionTicker == nil {
		electionTicker = newElectionTicker(c.TickPeriod, c.MinElectionTicks, c.MaxElectionTicks)
	}
	s := c.Storage
	if s == nil {
		s = storage.NewMemory()
	}

	ballot, err := s.LoadBallot()
	if err != nil {
		return nil, fmt.Errorf("recover ballot: %w", err)
	}
	lastIndex, err := s.LastIndex()
	if err != nil {
		return nil, fmt.Errorf("recover log: %w", err)
	}
	var logTerm uint64
	if lastIndex > 0 {
		e, _, err := s.GetEntry(lastIndex)
		if err != nil {
			return nil, fmt.Errorf("recover log: %w", err)
		}
		logTerm = e.Term
	}

	mIDs := tr.memberIDs()
	clusterSize := len(mIDs)
	members := map[uint64]*MemberState{c.ID: {ID: c.ID}}
	for _, id := range mIDs {
		members[id] = &MemberState{ID: id}
	}

	psm := ProtocolStateMachine{
		// ticker
		heartbeatTicker: heartbeatTicker,
		electionTicker:  electionTicker,
		heartbeatC:      nil,

		// network IO
		recvChan: tr.recv(),
		sendChan: tr.send(),

		// proposals
		propReqChan: make(chan proposalRequest),

		// reads
		readReqChan: make(chan readRequest),

		// applies
		commitChan: make(chan struct{}, 1),

		// state requests
		stateReqChan:  make(chan stateReq),
		stateRespChan: make(chan State),

		// peer requests
		membersReqChan:  make(chan membersRequest),
		membersRespChan: make(chan map[uint64]MemberState),

		// raft state
		state: State{
			ID:          c.ID,
			QuorumSize:  clusterSize/2 + 1,
			ClusterSize: clusterSize,
			Role:        RoleFollower,
			Term:        ballot.Term,
			VotedFor:    ballot.VotedFor,
			LastIndex:   lastIndex,
			LogTerm:     logTerm,
		},
		members: members,
		reads:   map[int64]*pendingRead{},

		storage:                s,
		maxEntriesPerMsg:       c.MaxEntriesPerMsg,
		quorumMatchIndexBuffer: make([]uint64, clusterSize),
		stopChan:               make(chan struct{}),
		doneChan:               make(chan struct{}),

		metrics: newMetrics(c.ID),
		logger:  c.Logger,
		debug:   c.Debug,
	}
	psm.metrics.observeState(psm.state)

	return &psm, nil
}

// NewProtocolConfig builds a ProtocolConfig for a Raft node.
func NewProtocolConfig(id uint64, opts ...ProtocolConfigOption) *ProtocolConfig {
	c := protocolConfigTemplate
	c.ID = id

	var aOpt *addProtocolLogger
	for _, opt := range opts {
		if a, ok := opt.(*addProtocolLogger); ok {
			aOpt = a
		}
		opt.Transform(&c)
	}

	if c.Debug && aOpt != nil {
		aOpt.loggerCfg.Level.SetLevel(zapcore.DebugLevel)
	}

	return &c
}

var protocolConfigTemplate = ProtocolConfig{
	TickPeriod: 100 * time.Millisecond,

	// A sensible heartbeat frequency is once per 100ms.
	HeartbeatTicks: 1,

	// A sensible election timeout is 10-20x the heartbeat period.
	MinElectionTicks: 10,
	MaxElectionTicks: 20,

	MaxEntriesPerMsg: 64,
}

// ProtocolConfigOption provides options to configure ProtocolConfig further.
type ProtocolConfigOption interface{ Transform(*ProtocolConfig) }

/******** WithTickPeriod ******************************************************/
type withTickPeriod struct {
	tickPeriod time.Duration
}

func (w *withTickPeriod) Transform(c *ProtocolConfig) {
	c.TickPeriod = w.tickPeriod
}

// WithTickPeriod sets a specified tick period.
func WithTickPeriod(tickPeriod time.Duration) ProtocolConfigOption {
	return &withTickPeriod{tickPeriod: tickPeriod}
}

/******** WithHeartbeatTicks **************************************************/
type withHeartbeatTicks struct {
	heartbeatTicks uint
}

func (w *withHeartbeatTicks) Transform(c *ProtocolConfig) {
	c.HeartbeatTicks = w.heartbeatTicks
}

// WithHeartbeatTicks sets the specified heartbeat ticks.
func WithHeartbeatTicks(heartbeatTicks uint) ProtocolConfigOption {
	return &withHeartbeatTicks{heartbeatTicks: heartbeatTicks}
}

/******** WithElectionTicks ***************************************************/
type withElectionTicks struct {
	min, max uint
}

func (w *withElectionTicks) Transform(c *ProtocolConfig) {
	c.MinElectionTicks, c.MaxElectionTicks = w.min, w.max
}

// WithElectionTicks sets the range of election timeout ticks.
func WithElectionTicks(min, max uint) ProtocolConfigOption {
	return &withElectionTicks{min: min, max: max}
}

/******** WithMaxEntriesPerMsg ************************************************/
type withMaxEntriesPerMsg struct {
	n uint64
}

func (w *withMaxEntriesPerMsg) Transform(c *ProtocolConfig) {
	c.MaxEntriesPerMsg = w.n
}

// WithMaxEntriesPerMsg bounds the number of entries per append message.
func WithMaxEntriesPerMsg(n uint64) ProtocolConfigOption {
	return &withMaxEntriesPerMsg{n: n}
}

/******** WithStorage *********************************************************/
type withStorage struct {
	s storage.Storage
}

func (w *withStorage) Transform(c *ProtocolConfig) {
	c.Storage = w.s
}

// WithStorage configures the log and ballot store. The node closes it on Stop.
func WithStorage(s storage.Storage) ProtocolConfigOption {
	return &withStorage{s: s}
}

/******** WithHeartbeatTicker ************************************************/
type withHeartbeatTicker struct {
	ticker Ticker
}

func (w *withHeartbeatTicker) Transform(c *ProtocolConfig) {
	c.HeartbeatTicker = w.ticker
}

// WithHeartbeatTicker configures to use a specified heartbeat ticker.
func WithHeartbeatTicker(ticker Ticker) ProtocolConfigOption {
	return &withHeartbeatTicker{ticker: ticker}
}

/******** WithElectionTicker ************************************************/
type withElectionTicker struct {
	ticker Ticker
}

func (w *withElectionTicker) Transform(c *ProtocolConfig) {
	c.ElectionTicker = w.ticker
}

// WithElectionTicker configures to use a specified election timeout ticker.
func WithElectionTicker(ticker Ticker) ProtocolConfigOption {
	return &withElectionTicker{ticker: ticker}
}

/******** AddProtocolLogger **************************************************/
type addProtocolLogger struct {
	loggerCfg zap.Config
}

func (w *addProtocolLogger) Transform(c *ProtocolConfig) {
	logger, err := w.loggerCfg.Build()
	if err != nil {
		panic(err)
	}
	c.Logger = logger.With(zap.Uint64("id", c.ID))
}

// AddProtocolLogger adds a default production zap.Logger to the configuration.
func AddProtocolLogger() ProtocolConfigOption {
	return &addProtocolLogger{
		loggerCfg: zap.NewProductionConfig(),
	}
}

/******** WithProtocolLogger **************************************************/
type withProtocolLogger struct {
	logger *zap.Logger
}

func (w *withProtocolLogger) Transform(c *ProtocolConfig) {
	c.Logger = w.logger
}

// WithProtocolLogger configures to use a specified logger for the protocol state machine.
func WithProtocolLogger(logger *zap.Logger) ProtocolConfigOption {
	return &withProtocolLogger{logger: logger}
}

/******** WithProtocolDebug ***************************************************/
type withProtocolDebug struct {
	debug bool
}

func (w *withProtocolDebug) Transform(c *ProtocolConfig) {
	c.Debug = w.debug
}

// WithProtocolDebug sets the debug field for the ProtocolConfig.
func WithProtocolDebug(debug bool) ProtocolConfigOption {
	return &withProtocolDebug{debug: debug}
}

/*************************************************************************************************/

// TransportConfig configures transport for the Raft cluster.
type TransportConfig struct {
	// ID of the Raft node to configure.
	ID uint64

	// Addresses mapping Raft node ID to the URI to connect to, in tcp://host:port or
	// unix:///path form.
	Addresses map[uint64]string

	// MsgBufferSize is the max number of Raft protocol messages per peer node allowed to be buffered
	// before the Raft node can process/send them out.
	MsgBufferSize int

	// DialTimeout is the timeout for dialing to peers.
	// ReconnectDelay is the duration to wait before retrying to dial a connection.
	DialTimeout, ReconnectDelay time.Duration

	// ServerOptions is an optional list of grpc.ServerOptions to configure the gRPC server.
	ServerOptions []grpc.ServerOption

	// DialOptions is an optional list of grpc.DialOptions to configure dialing to the peer
	// gRPC servers.
	DialOptions []grpc.DialOption

	// CallOptions is an optional list of grpc.CallOptions to configure calling the Communicate RPC.
	CallOptions []grpc.CallOption

	// Logger, if provided, will be used to log events.
	Logger *zap.Logger

	// Debug, if true, will log events at the DEBUG verbosity/granularity.
	Debug bool
}

// Verify verifies that the configuration is correct.
func (c *TransportConfig) Verify() error {
	if c.ID == 0 {
		return fmt.Errorf("ID must specified and not zero")
	}
	if c.MsgBufferSize <= 0 {
		return fmt.Errorf("MsgBufferSize must be greater than 0")
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("DialTimeout must be greater than 0")
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("ReconnectDelay must be greater than 0")
	}
	if _, ok := c.Addresses[c.ID]; !ok {
		return fmt.Errorf("%d is not a key into Addresses", c.ID)
	}
	return nil
}

// Build builds a Transport from configuration. It listens on the node's own address right
// away; peers are dialed once the transport is started.
func (c *TransportConfig) Build() (Transport, error) {
	if err := c.Verify(); err != nil {
		return nil, err
	}

	lis, err := listen(c.Addresses[c.ID])
	if err != nil {
		return nil, err
	}
	dialOptions := append([]grpc.DialOption{
		pb.DialOption(),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff:           backoff.DefaultConfig,
			MinConnectTimeout: c.DialTimeout,
		}),
	}, c.DialOptions...)

	peers := map[uint64]*peer{}
	for id, addr := range c.Addresses {
		if id == c.ID {
			continue
		}
		pLogger := c.Logger
		if pLogger != nil {
			pLogger = pLogger.With(zap.Uint64("peer", id))
		}
		ctx, cancel := context.WithCancel(context.Background())
		peers[id] = &peer{
			stopChan:       make(chan struct{}),
			doneChan:       make(chan struct{}),
			sendChan:       make(chan pb.Message, c.MsgBufferSize),
			ctx:            ctx,
			cancel:         cancel,
			id:             id,
			addr:           addr,
			reconnectDelay: c.ReconnectDelay,
			dialOptions:    dialOptions,
			callOptions:    c.CallOptions,
			logger:         pLogger,
			debug:          c.Debug,
		}
	}
	t := gRPCTransport{
		lis:        lis,
		grpcServer: grpc.NewServer(c.ServerOptions...),
		id:         c.ID,
		addr:       c.Addresses[c.ID],
		peers:      peers,

		recvChan: make(chan pb.Message),
		sendChan: make(chan pb.Message),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),

		logger: c.Logger,
		debug:  c.Debug,
	}
	pb.RegisterRaftProtocolServer(t.grpcServer, &t)
	return &t, nil
}

// NewTransportConfig builds a TransportConfig for a Raft node.
func NewTransportConfig(
	id uint64,
	addresses map[uint64]string,
	opts ...TransportConfigOption,
) *TransportConfig {
	c := transportConfigTemplate
	c.ID = id
	c.Addresses = addresses
	c.ServerOptions = append([]grpc.ServerOption(nil), transportConfigTemplate.ServerOptions...)
	c.DialOptions = append([]grpc.DialOption(nil), transportConfigTemplate.DialOptions...)

	secure := false
	var aOpt *addTransportLogger
	for _, opt := range opts {
		if _, ok := opt.(*withSecurity); ok {
			secure = true
		}
		if a, ok := opt.(*addTransportLogger); ok {
			aOpt = a
		}
		opt.Transform(&c)
	}

	if !secure {
		c.DialOptions = append(c.DialOptions, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if c.Debug && aOpt != nil {
		aOpt.loggerCfg.Level.SetLevel(zapcore.DebugLevel)
	}

	return &c
}

// transportConfigTemplate is the default partially filled TransportConfig.
var transportConfigTemplate = TransportConfig{
	// 30 message buffer per peer client
	MsgBufferSize: 30,

	// Sensible dial timeout if the Raft election timeout is ~1-2 seconds.
	DialTimeout:    3 * time.Second,
	ReconnectDelay: 100 * time.Millisecond,

	ServerOptions: []grpc.ServerOption{
		// Sensible keep-alive: disconnect a peer connection after ~10 seconds of inactivity.
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    5 * time.Second,
			Timeout: 5 * time.Second,
		}),
	},

	DialOptions: []grpc.DialOption{
		// Sensible keep-alive: disconnect from a peer's server after ~15 seconds of inactivity.
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    10 * time.Second, // minimum allowable value
			Timeout: 5 * time.Second,
		}),
	},
}

// TransportConfigOption provides options to configure TransportConfig further.
type TransportConfigOption interface{ Transform(*TransportConfig) }

/******** WithSecurity *******************************************************/
type withSecurity struct {
	opt grpc.DialOption
}

func (w *withSecurity) Transform(c *TransportConfig) {
	c.DialOptions = append(c.DialOptions, w.opt)
}

// WithSecurity configures gRPC to use the given transport credentials option instead of the
// default insecure credentials.
func WithSecurity(opt grpc.DialOption) TransportConfigOption {
	return &withSecurity{opt: opt}
}

/******** WithReconnectDelay *************************************************/
type withReconnectDelay struct {
	d time.Duration
}

func (w *withReconnectDelay) Transform(c *TransportConfig) {
	c.ReconnectDelay = w.d
}

// WithReconnectDelay sets the delay between attempts to reach a peer.
func WithReconnectDelay(d time.Duration) TransportConfigOption {
	return &withReconnectDelay{d: d}
}

/******** WithGRPCServerOption ***********************************************/
type withGRPCServerOption struct {
	opt grpc.ServerOption
}

func (w *withGRPCServerOption) Transform(c *TransportConfig) {
	c.ServerOptions = append(c.ServerOptions, w.opt)
}

// WithGRPCServerOption adds a grpc.ServerOption to grpc.NewServer
func WithGRPCServerOption(opt grpc.ServerOption) TransportConfigOption {
	return &withGRPCServerOption{opt: opt}
}

/******** WithGRPCDialOption *************************************************/
type withGRPCDialOption struct {
	opt grpc.DialOption
}

func (w *withGRPCDialOption) Transform(c *TransportConfig) {
	c.DialOptions = append(c.DialOptions, w.opt)
}

// WithGRPCDialOption adds a grpc.DialOption used to reach peers.
func WithGRPCDialOption(opt grpc.DialOption) TransportConfigOption {
	return &withGRPCDialOption{opt: opt}
}

/******** WithGRPCCallOption *************************************************/
type withGRPCCallOption struct {
	opt grpc.CallOption
}

func (w *withGRPCCallOption) Transform(c *TransportConfig) {
	c.CallOptions = append(c.CallOptions, w.opt)
}

// WithGRPCCallOption adds a grpc.CallOption to the Communicate RPC.
func WithGRPCCallOption(opt grpc.CallOption) TransportConfigOption {
	return &withGRPCCallOption{opt: opt}
}

/******** AddTransportLogger *************************************************/
type addTransportLogger struct {
	loggerCfg zap.Config
}

func (w *addTransportLogger) Transform(c *TransportConfig) {
	logger, err := w.loggerCfg.Build()
	if err != nil {
		panic(err)
	}
	c.Logger = logger.With(zap.Uint64("id", c.ID))
}

// AddTransportLogger adds a default production zap.Logger to the configuration.
func AddTransportLogger() TransportConfigOption {
	return &addTransportLogger{
		loggerCfg: zap.NewProductionConfig(),
	}
}

/******** WithTransportLogger ************************************************/
type withTransportLogger struct {
	logger *zap.Logger
}

func (w *withTransportLogger) Transform(c *TransportConfig) {
	c.Logger = w.logger
}

// WithTransportLogger configures to use a specified logger for the transport.
func WithTransportLogger(logger *zap.Logger) TransportConfigOption {
	return &withTransportLogger{logger: logger}
}

/******** WithTransportDebug *************************************************/
type withTransportDebug struct {
	debug bool
}

func (w *withTransportDebug) Transform(c *TransportConfig) {
	c.Debug = w.debug
}

// WithTransportDebug sets the debug field for the TransportConfig.
func WithTransportDebug(debug bool) TransportConfigOption {
	return &withTransportDebug{debug: debug}
}

/*************************************************************************************************/

// NodeConfig configures Node-specific configuration.
type NodeConfig struct {
	// ID of the Raft node.
	ID uint64

	// QueryPollInterval is how often queued queries are re-examined when no apply progress
	// was signaled.
	QueryPollInterval time.Duration

	// Logger, if provided, will be used to log events.
	Logger *zap.Logger

	// Debug, if true, will log events at the DEBUG verbosity/granularity.
	Debug bool
}

// Verify verifies that the configuration is correct.
func (c *NodeConfig) Verify() error {
	if c.ID == 0 {
		return fmt.Errorf("ID must specified and not zero")
	}
	if c.QueryPollInterval <= 0 {
		return fmt.Errorf("QueryPollInterval must be greater than 0")
	}
	return nil
}

// Build builds a Raft node. If tr is a gRPC transport, the client API is registered on its
// server.
func (c *NodeConfig) Build(
	psm *ProtocolStateMachine,
	tr Transport,
	a Application,
) (*Node, error) {
	if err := c.Verify(); err != nil {
		return nil, err
	}
	if psm.state.ID != c.ID {
		return nil, fmt.Errorf("protocol state machine ID %d does not match node ID %d", psm.state.ID, c.ID)
	}

	applied := newAppliedIndex()
	queue := newQueryQueue()
	n := Node{
		psm:            psm,
		tr:             tr,
		app:            a,
		applied:        applied,
		queries:        queue,
		executor:       newQueryExecutor(queue, applied, a, c.QueryPollInterval, c.Logger, c.Debug),
		stopChan:       make(chan struct{}),
		stopAppChan:    make(chan struct{}),
		stopAppErrChan: make(chan error, 1),
		logger:         c.Logger,
		debug:          c.Debug,
	}
	if gt, ok := tr.(*gRPCTransport); ok {
		pb.RegisterRaftServer(gt.server(), &clientService{node: &n})
	}

	return &n, nil
}

// NewNodeConfig builds a NodeConfig for a Raft node.
func NewNodeConfig(id uint64, opts ...NodeConfigOption) *NodeConfig {
	c := NodeConfig{
		ID:                id,
		QueryPollInterval: 100 * time.Millisecond,
	}

	var aOpt *addNodeLogger
	for _, opt := range opts {
		if a, ok := opt.(*addNodeLogger); ok {
			aOpt = a
		}
		opt.Transform(&c)
	}

	if c.Debug && aOpt != nil {
		aOpt.loggerCfg.Level.SetLevel(zapcore.DebugLevel)
	}

	return &c
}

// NodeConfigOption provides options to configure Node specifically.
type NodeConfigOption interface{ Transform(*NodeConfig) }

/******** WithQueryPollInterval ***********************************************/
type withQueryPollInterval struct {
	d time.Duration
}

func (w *withQueryPollInterval) Transform(c *NodeConfig) {
	c.QueryPollInterval = w.d
}

// WithQueryPollInterval sets how often the query executor polls the applied index.
func WithQueryPollInterval(d time.Duration) NodeConfigOption {
	return &withQueryPollInterval{d: d}
}

/******** AddNodeLogger ******************************************************/
type addNodeLogger struct {
	loggerCfg zap.Config
}

func (w *addNodeLogger) Transform(c *NodeConfig) {
	logger, err := w.loggerCfg.Build()
	if err != nil {
		panic(err)
	}
	c.Logger = logger.With(zap.Uint64("id", c.ID))
}

// AddNodeLogger adds a default production zap.Logger to the configuration.
func AddNodeLogger() NodeConfigOption {
	return &addNodeLogger{
		loggerCfg: zap.NewProductionConfig(),
	}
}

/******** WithNodeLogger **************************************************/
type withNodeLogger struct {
	logger *zap.Logger
}

func (w *withNodeLogger) Transform(c *NodeConfig) {
	c.Logger = w.logger
}

// WithNodeLogger configures to use a specified logger for the node.
func WithNodeLogger(logger *zap.Logger) NodeConfigOption {
	return &withNodeLogger{logger: logger}
}

/******** WithNodeDebug ***************************************************/
type withNodeDebug struct {
	debug bool
}

func (w *withNodeDebug) Transform(c *NodeConfig) {
	c.Debug = w.debug
}

// WithNodeDebug sets the debug field for the NodeConfig.
func WithNodeDebug(debug bool) NodeConfigOption {
	return &withNodeDebug{debug: debug}
}
