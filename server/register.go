package server

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Reverse-Call-Center/agent-phone/config"
	"github.com/Reverse-Call-Center/agent-phone/types"
	"github.com/benbjohnson/clock"
	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/icholy/digest"
	"github.com/rs/zerolog"
)

const requestTimeout = 5 * time.Second

// Registrar keeps the agent registered with the routing server. It sends
// REGISTER with digest authentication, refreshes the binding before it
// expires and probes the server with OPTIONS to notice a dead connection.
type Registrar struct {
	client *sipgo.Client
	cfg    *config.Config
	clock  clock.Clock
	logger zerolog.Logger

	mutex   sync.Mutex
	creds   types.Credentials
	callID  string
	cseq    uint32
	drop    func(error)
	stop    chan struct{}
	refresh *clock.Timer
}

func NewRegistrar(client *sipgo.Client, cfg *config.Config, clk clock.Clock, logger zerolog.Logger) *Registrar {
	if clk == nil {
		clk = clock.New()
	}
	return &Registrar{
		client: client,
		cfg:    cfg,
		clock:  clk,
		logger: logger.With().Str("component", "sip-registrar").Logger(),
	}
}

// Connect checks that the server answers and starts the keepalive probe.
func (r *Registrar) Connect(ctx context.Context, onDrop func(error)) error {
	if err := r.probe(ctx); err != nil {
		return err
	}

	var once sync.Once
	drop := func(err error) {
		once.Do(func() { onDrop(err) })
	}
	stop := make(chan struct{})

	r.mutex.Lock()
	r.stopLocked()
	r.drop = drop
	r.stop = stop
	r.mutex.Unlock()

	if interval := r.cfg.KeepaliveInterval.Std(); interval > 0 {
		go r.keepalive(interval, stop, drop)
	}
	return nil
}

func (r *Registrar) keepalive(interval time.Duration, stop chan struct{}, drop func(error)) {
	ticker := r.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		err := r.probe(ctx)
		cancel()
		if err != nil {
			select {
			case <-stop:
			default:
				drop(fmt.Errorf("keepalive: %w", err))
			}
			return
		}
	}
}

func (r *Registrar) probe(ctx context.Context) error {
	uri, err := r.serverURI()
	if err != nil {
		return err
	}
	req := sip.NewRequest(sip.OPTIONS, uri)
	req.SetDestination(r.cfg.SIPServer)
	// Any final response proves the server is reachable.
	_, err = r.do(ctx, req)
	return err
}

// Register binds creds to this user agent's contact.
func (r *Registrar) Register(ctx context.Context, creds types.Credentials) error {
	r.mutex.Lock()
	if creds != r.creds || r.callID == "" {
		r.callID = uuid.NewString()
		r.cseq = 0
	}
	r.creds = creds
	r.mutex.Unlock()

	expiry := r.cfg.RegisterExpiry.Std()
	if err := r.register(ctx, creds, expiry); err != nil {
		return err
	}
	r.scheduleRefresh(expiry)
	return nil
}

// Unregister removes the binding (Expires: 0).
func (r *Registrar) Unregister(ctx context.Context) error {
	r.mutex.Lock()
	creds := r.creds
	if r.refresh != nil {
		r.refresh.Stop()
		r.refresh = nil
	}
	r.mutex.Unlock()

	if creds.Empty() {
		return nil
	}
	return r.register(ctx, creds, 0)
}

// Close stops keepalive and refresh. The user agent stays up.
func (r *Registrar) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.stopLocked()
	return nil
}

func (r *Registrar) stopLocked() {
	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
	if r.refresh != nil {
		r.refresh.Stop()
		r.refresh = nil
	}
	r.drop = nil
}

// scheduleRefresh re-registers at 80% of the granted expiry. A failed
// refresh counts as a dropped connection.
func (r *Registrar) scheduleRefresh(expiry time.Duration) {
	if expiry <= 0 {
		return
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.stop == nil {
		return
	}
	if r.refresh != nil {
		r.refresh.Stop()
	}
	creds, drop := r.creds, r.drop
	r.refresh = r.clock.AfterFunc(expiry*4/5, func() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := r.register(ctx, creds, expiry); err != nil {
			r.logger.Warn().Err(err).Msg("Registration refresh failed")
			if drop != nil {
				drop(fmt.Errorf("refresh: %w", err))
			}
			return
		}
		r.scheduleRefresh(expiry)
	})
}

func (r *Registrar) register(ctx context.Context, creds types.Credentials, expiry time.Duration) error {
	req, err := r.registerRequest(creds, expiry)
	if err != nil {
		return err
	}
	res, err := r.do(ctx, req)
	if err != nil {
		return err
	}

	if code := int(res.StatusCode); code == 401 || code == 407 {
		auth, err := authorize(req, res, creds)
		if err != nil {
			return err
		}
		req, err = r.registerRequest(creds, expiry)
		if err != nil {
			return err
		}
		req.AppendHeader(auth)
		if res, err = r.do(ctx, req); err != nil {
			return err
		}
		return registerError(res, true)
	}
	return registerError(res, false)
}

func (r *Registrar) registerRequest(creds types.Credentials, expiry time.Duration) (*sip.Request, error) {
	recipient, err := r.serverURI()
	if err != nil {
		return nil, err
	}
	var aor, contact sip.Uri
	if err := sip.ParseUri(fmt.Sprintf("sip:%s@%s", creds.Identity, r.cfg.SIPDomain), &aor); err != nil {
		return nil, fmt.Errorf("invalid identity %q: %w", creds.Identity, err)
	}
	contactAddr := fmt.Sprintf("sip:%s@%s:%d", creds.Identity, r.cfg.SIPContactHost, r.cfg.SIPPort)
	if err := sip.ParseUri(contactAddr, &contact); err != nil {
		return nil, fmt.Errorf("invalid contact %q: %w", contactAddr, err)
	}

	r.mutex.Lock()
	r.cseq++
	seq := r.cseq
	callID := sip.CallIDHeader(r.callID)
	r.mutex.Unlock()

	req := sip.NewRequest(sip.REGISTER, recipient)
	req.SetDestination(r.cfg.SIPServer)

	from := &sip.FromHeader{Address: aor, Params: sip.NewParams()}
	from.Params.Add("tag", sip.GenerateTagN(16))
	req.AppendHeader(from)
	req.AppendHeader(&sip.ToHeader{Address: aor, Params: sip.NewParams()})
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: seq, MethodName: sip.REGISTER})
	req.AppendHeader(&sip.ContactHeader{Address: contact})
	req.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(int(expiry/time.Second))))
	return req, nil
}

func (r *Registrar) serverURI() (sip.Uri, error) {
	var uri sip.Uri
	if err := sip.ParseUri("sip:"+r.cfg.SIPDomain, &uri); err != nil {
		return sip.Uri{}, fmt.Errorf("invalid sip domain %q: %w", r.cfg.SIPDomain, err)
	}
	return uri, nil
}

// do sends req and waits for its final response.
func (r *Registrar) do(ctx context.Context, req *sip.Request) (*sip.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	tx, err := r.client.TransactionRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Method, err)
	}
	defer tx.Terminate()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w", req.Method, ctx.Err())
		case <-tx.Done():
			if err := tx.Err(); err != nil {
				return nil, fmt.Errorf("%s: %w", req.Method, err)
			}
			return nil, fmt.Errorf("%s: transaction terminated", req.Method)
		case res := <-tx.Responses():
			if int(res.StatusCode) < 200 {
				continue
			}
			return res, nil
		}
	}
}

// authorize answers a digest challenge from res.
func authorize(req *sip.Request, res *sip.Response, creds types.Credentials) (sip.Header, error) {
	challengeName, authName := "WWW-Authenticate", "Authorization"
	if int(res.StatusCode) == 407 {
		challengeName, authName = "Proxy-Authenticate", "Proxy-Authorization"
	}
	if creds.Secret == "" {
		return nil, fmt.Errorf("%w: server requires a secret", types.ErrAuthRejected)
	}

	header := res.GetHeader(challengeName)
	if header == nil {
		return nil, fmt.Errorf("no %s header in %d response", challengeName, int(res.StatusCode))
	}
	challenge, err := digest.ParseChallenge(header.Value())
	if err != nil {
		return nil, fmt.Errorf("invalid challenge %q: %w", header.Value(), err)
	}
	cred, err := digest.Digest(challenge, digest.Options{
		Method:   req.Method.String(),
		URI:      req.Recipient.String(),
		Username: creds.Identity,
		Password: creds.Secret,
	})
	if err != nil {
		return nil, err
	}
	return sip.NewHeader(authName, cred.String()), nil
}

// registerError classifies a final REGISTER response. A challenge that
// survives our answer, or a 403, means the credentials are wrong.
func registerError(res *sip.Response, authSent bool) error {
	code := int(res.StatusCode)
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == 403, authSent && (code == 401 || code == 407):
		return fmt.Errorf("%w: %d %s", types.ErrAuthRejected, code, res.Reason)
	}
	return &StatusError{Code: code, Reason: res.Reason}
}

// StatusError is a final SIP response that failed a request.
type StatusError struct {
	Code   int
	Reason string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s", e.Code, e.Reason)
}

func (e *StatusError) StatusCode() int { return e.Code }

// dialError turns a failed dialog request into a StatusError when the far
// end answered. sipgo returns the response error both by pointer and by value.
func dialError(err error) error {
	var res *sip.Response
	var dp *sipgo.ErrDialogResponse
	var dv sipgo.ErrDialogResponse
	switch {
	case errors.As(err, &dp):
		res = dp.Res
	case errors.As(err, &dv):
		res = dv.Res
	}
	if res == nil {
		return err
	}
	return &StatusError{Code: int(res.StatusCode), Reason: res.Reason}
}
