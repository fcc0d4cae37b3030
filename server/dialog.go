package server

import (
	"context"
	"io"

	"github.com/Reverse-Call-Center/agent-phone/audio"
	"github.com/Reverse-Call-Center/agent-phone/types"
	"github.com/Reverse-Call-Center/agent-phone/utils"
	"github.com/emiago/diago"
	"github.com/emiago/diago/media"
	"github.com/emiago/diago/media/sdp"
	"github.com/emiago/sipgo/sip"
)

// Optional dialog capabilities. Dialogs without them report ErrUnsupported.
type reinviter interface {
	ReInvite(ctx context.Context) error
	MediaSession() *media.MediaSession
}

type referrer interface {
	Refer(ctx context.Context, referTo sip.Uri) error
}

type referrerWithHeaders interface {
	Refer(ctx context.Context, referTo sip.Uri, headers ...sip.Header) error
}

// inboundDialog adapts a diago server session to calls.Dialog.
type inboundDialog struct {
	d      *diago.DialogServerSession
	domain string
}

func (i inboundDialog) Answer(ctx context.Context) error {
	return i.d.Answer()
}

func (i inboundDialog) Reject(ctx context.Context, code int, reason string) error {
	return respond(i.d.Respond, code, reason)
}

func (i inboundDialog) Hangup(ctx context.Context) error {
	return i.d.Hangup(ctx)
}

func (i inboundDialog) Hold(ctx context.Context, held bool) error {
	return reinvite(ctx, i.d, holdMode(held))
}

func (i inboundDialog) Refer(ctx context.Context, target string) error {
	return refer(ctx, i.d, target, i.domain)
}

func (i inboundDialog) Media() audio.Stream {
	return newStream(i.d.AudioReader, i.d.AudioWriter)
}

func (i inboundDialog) Done() <-chan struct{} {
	return i.d.Context().Done()
}

// outboundDialog adapts a diago client session to calls.Dialog.
type outboundDialog struct {
	d      *diago.DialogClientSession
	domain string
}

func (o outboundDialog) Answer(ctx context.Context) error {
	return types.ErrInvalidState
}

func (o outboundDialog) Reject(ctx context.Context, code int, reason string) error {
	return o.d.Hangup(ctx)
}

func (o outboundDialog) Hangup(ctx context.Context) error {
	return o.d.Hangup(ctx)
}

func (o outboundDialog) Hold(ctx context.Context, held bool) error {
	return reinvite(ctx, o.d, holdMode(held))
}

func (o outboundDialog) Refer(ctx context.Context, target string) error {
	return refer(ctx, o.d, target, o.domain)
}

func (o outboundDialog) Media() audio.Stream {
	return newStream(o.d.AudioReader, o.d.AudioWriter)
}

func (o outboundDialog) Done() <-chan struct{} {
	return o.d.Context().Done()
}

// respond sends a final response through a Respond method whatever its
// status code type.
func respond[C ~int](fn func(C, string, []byte, ...sip.Header) error, code int, reason string) error {
	return fn(C(code), reason, nil)
}

// holdMode is the SDP direction offered for a hold or resume.
func holdMode(held bool) string {
	if held {
		return sdp.ModeSendonly
	}
	return sdp.ModeSendrecv
}

// reinvite offers the local SDP again with the given direction. The previous
// direction is restored when the far end refuses the offer.
func reinvite(ctx context.Context, d any, mode string) error {
	r, ok := d.(reinviter)
	if !ok {
		return types.ErrUnsupported
	}
	ms := r.MediaSession()
	if ms == nil {
		return types.ErrUnsupported
	}
	prev := ms.Mode
	ms.Mode = mode
	if err := r.ReInvite(ctx); err != nil {
		ms.Mode = prev
		return dialError(err)
	}
	return nil
}

func refer(ctx context.Context, d any, target, domain string) error {
	uri, err := utils.DestinationURI(target, domain)
	if err != nil {
		return err
	}
	switch r := d.(type) {
	case referrer:
		return dialError(r.Refer(ctx, uri))
	case referrerWithHeaders:
		return dialError(r.Refer(ctx, uri))
	}
	return types.ErrUnsupported
}

// stream exposes a dialog's audio reader and writer as an audio.Stream.
type stream[R io.Reader, W io.Writer, RO, WO any] struct {
	reader func(...RO) (R, error)
	writer func(...WO) (W, error)
}

func newStream[R io.Reader, W io.Writer, RO, WO any](reader func(...RO) (R, error), writer func(...WO) (W, error)) audio.Stream {
	return stream[R, W, RO, WO]{reader: reader, writer: writer}
}

func (s stream[R, W, RO, WO]) AudioReader() (io.Reader, error) {
	r, err := s.reader()
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s stream[R, W, RO, WO]) AudioWriter() (io.Writer, error) {
	w, err := s.writer()
	if err != nil {
		return nil, err
	}
	return w, nil
}
