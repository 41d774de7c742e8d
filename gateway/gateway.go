package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/ulysseses/raftlog/pb"
)

// ErrClosed is returned by calls on a closed Gateway.
var ErrClosed = errors.New("gateway: closed")

const probeInterval = 50 * time.Millisecond

var errLeaderFound = errors.New("leader found")

// Gateway is a grpc.ClientConnInterface over a raftlog cluster. Unary calls answered with
// "not leader" are retried against the leader, so a pb.RaftClient built on a Gateway does not
// need to know which node leads.
type Gateway struct {
	c        *Connector
	endpoint *atomic.String
	learned  *atomic.Bool

	mu      sync.Mutex
	conns   map[string]*grpc.ClientConn
	members map[string]struct{}
	closed  bool
}

var _ grpc.ClientConnInterface = (*Gateway)(nil)

func newGateway(c *Connector, uri string, members []string) *Gateway {
	g := &Gateway{
		c:        c,
		endpoint: atomic.NewString(uri),
		learned:  atomic.NewBool(false),
		conns:    map[string]*grpc.ClientConn{},
		members:  map[string]struct{}{uri: {}},
	}
	for _, m := range members {
		g.members[m] = struct{}{}
	}
	return g
}

// Invoke implements grpc.ClientConnInterface. A FailedPrecondition reply carrying a leader hint
// is retried against the hinted node. An Unavailable reply, or one without a hint, is retried
// against the leader reported by the members. Any other reply is returned as is.
func (g *Gateway) Invoke(
	ctx context.Context,
	method string,
	args, reply interface{},
	opts ...grpc.CallOption,
) error {
	ep := g.endpoint.Load()
	for hops := 0; ; hops++ {
		cc, err := g.conn(ep)
		if err != nil {
			return err
		}
		if !g.learned.Load() && method != pb.MethodClusterInfo {
			g.discover(ctx, cc)
		}
		var trailer metadata.MD
		callOpts := append(append([]grpc.CallOption{}, opts...), grpc.Trailer(&trailer))
		err = cc.Invoke(ctx, method, args, reply, callOpts...)
		if err == nil {
			if info, ok := reply.(*pb.ClusterInfoResponse); ok {
				g.learn(info)
			}
			return nil
		}

		code := status.Code(err)
		if code != codes.FailedPrecondition && code != codes.Unavailable {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		if hops >= g.c.maxRedirects {
			return fmt.Errorf("%w after %d hops: %v", ErrRedirectLoopExceeded, hops, err)
		}

		next := ""
		if code == codes.FailedPrecondition {
			next = leaderHint(trailer)
		}
		if next == "" {
			next, err = g.probe(ctx)
			if err != nil {
				return err
			}
		}
		g.addMember(next)
		g.c.redirects.Inc()
		if g.c.l() {
			g.c.logger.Debug("redirecting",
				zap.String("method", method),
				zap.String("from", ep),
				zap.String("to", next),
				zap.Stringer("code", code))
		}
		g.endpoint.Store(next)
		ep = next
	}
}

// NewStream implements grpc.ClientConnInterface. Streams are not redirected: they go to the
// current endpoint.
func (g *Gateway) NewStream(
	ctx context.Context,
	desc *grpc.StreamDesc,
	method string,
	opts ...grpc.CallOption,
) (grpc.ClientStream, error) {
	cc, err := g.conn(g.endpoint.Load())
	if err != nil {
		return nil, err
	}
	return cc.NewStream(ctx, desc, method, opts...)
}

// Leader returns the URI of the node calls currently go to.
func (g *Gateway) Leader() string {
	return g.endpoint.Load()
}

// Members returns the URIs of the nodes the gateway knows of, sorted.
func (g *Gateway) Members() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	uris := make([]string, 0, len(g.members))
	for uri := range g.members {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}

// Close closes every connection the gateway opened.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	var errs error
	for uri, cc := range g.conns {
		if err := cc.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("close %s: %w", uri, err))
		}
	}
	g.conns = nil
	return errs
}

// conn returns the cached connection to uri, dialing it first if needed.
func (g *Gateway) conn(uri string) (*grpc.ClientConn, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, ErrClosed
	}
	if cc, ok := g.conns[uri]; ok {
		return cc, nil
	}
	t := g.c.resolve(uri)
	opts := append([]grpc.DialOption{pb.DialOption()}, g.c.dialOptions...)
	opts = append(opts, t.DialOptions...)
	cc, err := grpc.NewClient(t.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("gateway: dial %s: %w", uri, err)
	}
	g.conns[uri] = cc
	return cc, nil
}

func (g *Gateway) addMember(uri string) {
	g.mu.Lock()
	g.members[uri] = struct{}{}
	g.mu.Unlock()
}

func (g *Gateway) learn(info *pb.ClusterInfoResponse) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range info.Members {
		if m.Uri != "" {
			g.members[m.Uri] = struct{}{}
		}
	}
	if len(info.Members) > 0 {
		g.learned.Store(true)
	}
}

// discover learns the members from cc, so that they can be probed should cc's node fail.
// Failures are left to the call that follows.
func (g *Gateway) discover(ctx context.Context, cc *grpc.ClientConn) {
	info, err := pb.NewRaftClient(cc).ClusterInfo(ctx, &pb.ClusterInfoRequest{})
	if err != nil {
		return
	}
	g.learn(info)
}

// probe asks every known member for the leader until one names it or the probe timeout ends.
func (g *Gateway) probe(ctx context.Context) (string, error) {
	g.c.probes.Inc()
	pctx, cancel := context.WithTimeout(ctx, g.c.probeTimeout)
	defer cancel()
	for {
		if leader := g.probeOnce(pctx); leader != "" {
			return leader, nil
		}
		select {
		case <-pctx.Done():
			if err := ctx.Err(); err != nil {
				return "", err
			}
			return "", ErrNoLeaderAvailable
		case <-time.After(probeInterval):
		}
	}
}

// probeOnce returns the first leader reported by a member, or "" if none reports one.
func (g *Gateway) probeOnce(ctx context.Context) string {
	var (
		mu     sync.Mutex
		leader string
	)
	eg, ctx := errgroup.WithContext(ctx)
	for _, uri := range g.Members() {
		uri := uri
		eg.Go(func() error {
			cc, err := g.conn(uri)
			if err != nil {
				return nil
			}
			info, err := pb.NewRaftClient(cc).ClusterInfo(ctx, &pb.ClusterInfoRequest{})
			if err != nil {
				if g.c.l() {
					g.c.logger.Debug("probe failed", zap.String("member", uri), zap.Error(err))
				}
				return nil
			}
			g.learn(info)
			if info.LeaderUri == "" {
				return nil
			}
			mu.Lock()
			if leader == "" {
				leader = info.LeaderUri
			}
			mu.Unlock()
			return errLeaderFound
		})
	}
	_ = eg.Wait()
	return leader
}

func leaderHint(md metadata.MD) string {
	if v := md.Get(pb.LeaderHintKey); len(v) > 0 {
		return v[0]
	}
	return ""
}
