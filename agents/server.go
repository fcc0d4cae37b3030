package agents

import (
	"context"
	"net"
	"sync"

	"github.com/Reverse-Call-Center/agent-phone/types"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	presenceServiceName = "agentphone.presence.v1.PresenceService"
	reportStatusMethod  = "/" + presenceServiceName + "/ReportStatus"
)

// PresenceServiceServer receives presence reports. Requests are structs
// with "identity", "status" and "pause_reason" string fields.
type PresenceServiceServer interface {
	ReportStatus(context.Context, *structpb.Struct) (*emptypb.Empty, error)
}

var presenceServiceDesc = grpc.ServiceDesc{
	ServiceName: presenceServiceName,
	HandlerType: (*PresenceServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ReportStatus",
			Handler:    reportStatusHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "presence.proto",
}

func RegisterPresenceServiceServer(s grpc.ServiceRegistrar, srv PresenceServiceServer) {
	s.RegisterService(&presenceServiceDesc, srv)
}

func reportStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PresenceServiceServer).ReportStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: reportStatusMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PresenceServiceServer).ReportStatus(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Collector is a presence service that keeps the last status per agent.
// It stands in for the routing platform during development.
type Collector struct {
	logger zerolog.Logger

	mutex  sync.RWMutex
	agents map[string]types.AgentPresence
}

func NewCollector(logger zerolog.Logger) *Collector {
	return &Collector{
		logger: logger.With().Str("component", "presence-collector").Logger(),
		agents: make(map[string]types.AgentPresence),
	}
}

func (c *Collector) ReportStatus(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	fields := req.GetFields()
	identity := fields["identity"].GetStringValue()
	presence := types.AgentPresence{
		Status:      types.PresenceStatus(fields["status"].GetStringValue()),
		PauseReason: fields["pause_reason"].GetStringValue(),
	}

	if identity == "" {
		return nil, status.Error(codes.InvalidArgument, "identity is required")
	}
	if !presence.Status.Valid() {
		return nil, status.Errorf(codes.InvalidArgument, "unknown status %q", presence.Status)
	}

	c.mutex.Lock()
	c.agents[identity] = presence
	c.mutex.Unlock()

	c.logger.Info().
		Str("identity", identity).
		Str("status", string(presence.Status)).
		Str("reason", presence.PauseReason).
		Msg("Agent presence reported")
	return &emptypb.Empty{}, nil
}

// Last returns the most recent status reported for identity.
func (c *Collector) Last(identity string) (types.AgentPresence, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	p, ok := c.agents[identity]
	return p, ok
}

// Serve hosts the collector on lis until ctx is done.
func (c *Collector) Serve(ctx context.Context, lis net.Listener) error {
	grpcServer := grpc.NewServer()
	RegisterPresenceServiceServer(grpcServer, c)

	go func() {
		<-ctx.Done()
		grpcServer.GracefulStop()
	}()

	c.logger.Info().Str("address", lis.Addr().String()).Msg("Presence collector listening")
	if err := grpcServer.Serve(lis); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
