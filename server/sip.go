package server

import (
	"context"
	"fmt"

	"github.com/Reverse-Call-Center/agent-phone/calls"
	"github.com/Reverse-Call-Center/agent-phone/config"
	"github.com/Reverse-Call-Center/agent-phone/types"
	"github.com/Reverse-Call-Center/agent-phone/utils"
	"github.com/benbjohnson/clock"
	"github.com/emiago/diago"
	"github.com/emiago/sipgo"
	"github.com/rs/zerolog"
)

// Inbound takes ownership of new incoming dialogs.
type Inbound interface {
	Incoming(dialog calls.Dialog, remote string) (*calls.Session, error)
}

// SIPServer is the agent's SIP user agent: it registers with the routing
// server, receives inbound INVITEs and places outgoing calls.
type SIPServer struct {
	*Registrar

	cfg    *config.Config
	ua     *sipgo.UserAgent
	dg     *diago.Diago
	creds  func() types.Credentials
	logger zerolog.Logger
}

func NewSIPServer(cfg *config.Config, creds func() types.Credentials, clk clock.Clock, logger zerolog.Logger) (*SIPServer, error) {
	ua, err := sipgo.NewUA(sipgo.WithUserAgent("agent-phone"))
	if err != nil {
		return nil, fmt.Errorf("error creating SIP user agent: %w", err)
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("error creating SIP client: %w", err)
	}

	transport := diago.Transport{
		Transport: cfg.SIPProtocol,
		BindHost:  cfg.SIPListenAddress,
		BindPort:  cfg.SIPPort,
	}

	return &SIPServer{
		Registrar: NewRegistrar(client, cfg, clk, logger),
		cfg:       cfg,
		ua:        ua,
		dg:        diago.NewDiago(ua, diago.WithTransport(transport)),
		creds:     creds,
		logger:    logger.With().Str("component", "sip").Logger(),
	}, nil
}

// Serve listens for inbound calls until ctx is done.
func (s *SIPServer) Serve(ctx context.Context, inbound Inbound) error {
	s.logger.Info().
		Str("protocol", s.cfg.SIPProtocol).
		Str("address", s.cfg.SIPListenAddress).
		Int("port", s.cfg.SIPPort).
		Msg("Starting SIP user agent")

	return s.dg.Serve(ctx, func(inDialog *diago.DialogServerSession) {
		s.handleIncomingCall(inDialog, inbound)
	})
}

// handleIncomingCall runs for the life of one inbound dialog.
func (s *SIPServer) handleIncomingCall(inDialog *diago.DialogServerSession, inbound Inbound) {
	remote := utils.ExtractCallerPhone(inDialog.InviteRequest.Headers())

	if err := inDialog.Trying(); err != nil {
		s.logger.Debug().Err(err).Msg("Trying failed")
	}

	session, err := inbound.Incoming(inboundDialog{d: inDialog, domain: s.cfg.SIPDomain}, remote)
	if err != nil {
		return
	}

	if err := inDialog.Ringing(); err != nil {
		s.logger.Debug().Err(err).Str("call_id", session.ID()).Msg("Ringing failed")
	}

	select {
	case <-session.Done():
	case <-inDialog.Context().Done():
	}
}

// Dial places an outgoing call and returns once the far end answered.
func (s *SIPServer) Dial(ctx context.Context, destination string) (calls.Dialog, error) {
	uri, err := utils.DestinationURI(destination, s.cfg.SIPDomain)
	if err != nil {
		return nil, err
	}
	creds := s.creds()

	d, err := s.dg.Invite(ctx, uri, diago.InviteOptions{
		Username: creds.Identity,
		Password: creds.Secret,
	})
	if err != nil {
		return nil, dialError(err)
	}
	return outboundDialog{d: d, domain: s.cfg.SIPDomain}, nil
}

func (s *SIPServer) Shutdown() error {
	if err := s.Registrar.Close(); err != nil {
		return err
	}
	return s.ua.Close()
}
