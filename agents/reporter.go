package agents

import (
	"context"
	"fmt"

	"github.com/Reverse-Call-Center/agent-phone/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// GRPCReporter sends presence to a PresenceService.
type GRPCReporter struct {
	conn     grpc.ClientConnInterface
	identity func() string
}

// NewGRPCReporter uses identity to name the agent in every report, so a
// credential change is picked up without rebuilding the reporter.
func NewGRPCReporter(conn grpc.ClientConnInterface, identity func() string) *GRPCReporter {
	return &GRPCReporter{conn: conn, identity: identity}
}

// DialReporter connects to the presence service at addr.
func DialReporter(addr string, identity func() string) (*GRPCReporter, *grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create presence client: %w", err)
	}
	return NewGRPCReporter(conn, identity), conn, nil
}

func (r *GRPCReporter) ReportStatus(ctx context.Context, presence types.AgentPresence) error {
	identity := r.identity()
	if identity == "" {
		return types.ErrNoCredentials
	}
	req, err := structpb.NewStruct(map[string]any{
		"identity":     identity,
		"status":       string(presence.Status),
		"pause_reason": presence.PauseReason,
	})
	if err != nil {
		return err
	}
	if err := r.conn.Invoke(ctx, reportStatusMethod, req, new(emptypb.Empty)); err != nil {
		return fmt.Errorf("report status %s: %w", presence.Status, err)
	}
	return nil
}
