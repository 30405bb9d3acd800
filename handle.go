package janode

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/meetecho/janode-go/internal/errors"
	"github.com/meetecho/janode-go/internal/log"
	"github.com/meetecho/janode-go/internal/utils"
)

// Handle is an attachment to a Janus plugin within a session. Requests
// sent through it carry both the session and handle identifiers; inbound
// plugin payloads are decoded by the handle's adapter when one is
// attached.
//
// Events: EventHandleDetached, EventHandleHangup, EventHandleMedia,
// EventHandleWebRTCUp, EventHandleSlowlink, EventHandleTrickle, plus
// whatever names the plugin adapter produces.
type Handle struct {
	*Emitter

	id       int64
	session  *Session
	plugin   string
	adapter  PluginAdapter
	logger   *log.Logger
	detached atomic.Bool
}

func newHandle(session *Session, id int64, plugin string, adapter PluginAdapter) *Handle {
	return &Handle{
		Emitter: newEmitter(),
		id:      id,
		session: session,
		plugin:  plugin,
		adapter: adapter,
		logger:  session.conn.rootLogger.Module("handle"),
	}
}

// ID returns the server-assigned handle identifier.
func (h *Handle) ID() int64 {
	return h.id
}

// Plugin returns the plugin identifier the handle is attached to.
func (h *Handle) Plugin() string {
	return h.plugin
}

// Session returns the owning session.
func (h *Handle) Session() *Session {
	return h.session
}

// Detached reports whether the handle is gone, whatever the cause.
func (h *Handle) Detached() bool {
	return h.detached.Load()
}

func (h *Handle) decorateRequest(req map[string]any) {
	req["session_id"] = h.session.id
	req["handle_id"] = h.id
	if _, ok := req["transaction"]; !ok {
		req["transaction"] = h.session.conn.ids.Next()
	}
}

func (h *Handle) submit(ctx context.Context, req map[string]any) (txResult, error) {
	if h.detached.Load() {
		return txResult{}, errors.New(ErrHandleDetached, "handle detached")
	}
	h.decorateRequest(req)
	if obs, ok := h.adapter.(RequestObserver); ok {
		obs.ObserveRequest(req)
	}
	return h.session.conn.submit(ctx, h, req)
}

// Message sends a plugin request with an optional JSEP and waits for the
// plugin's reply. With an adapter attached the reply comes back decoded;
// otherwise the raw envelope is wrapped in a generic PluginEvent.
func (h *Handle) Message(ctx context.Context, body any, jsep *JSEP) (*PluginEvent, error) {
	if body == nil {
		return nil, errors.New(ErrInvalidArgument, "message body required")
	}
	if jsep != nil && (jsep.Type == "" || jsep.SDP == "") {
		return nil, errors.New(ErrInvalidArgument, "jsep requires type and sdp")
	}

	req := newRequest(janusMessage)
	req["body"] = body
	if jsep != nil {
		req["jsep"] = jsep
	}
	res, err := h.submit(ctx, req)
	if err != nil {
		return nil, err
	}
	if res.event != nil {
		return res.event, nil
	}
	return rawPluginEvent(res.msg), nil
}

// Trickle sends one or more ICE candidates. The server acknowledges
// trickles without a definitive reply; the ack completes the call.
func (h *Handle) Trickle(ctx context.Context, candidates ...Candidate) error {
	if len(candidates) == 0 {
		return errors.New(ErrInvalidArgument, "at least one candidate required")
	}
	req := newRequest(janusTrickle)
	if len(candidates) == 1 {
		req["candidate"] = candidates[0]
	} else {
		req["candidates"] = candidates
	}
	_, err := h.submit(ctx, req)
	return err
}

// TrickleComplete signals the end of trickled candidates.
func (h *Handle) TrickleComplete(ctx context.Context) error {
	req := newRequest(janusTrickle)
	req["candidate"] = Candidate{Completed: true}
	_, err := h.submit(ctx, req)
	return err
}

// Hangup tears down the PeerConnection of this handle, keeping the
// handle attached.
func (h *Handle) Hangup(ctx context.Context) error {
	_, err := h.submit(ctx, newRequest(janusHangup))
	return err
}

// Detach detaches the handle from the plugin. Further requests fail with
// ErrHandleDetached; a second Detach returns ErrAlreadyDetached.
func (h *Handle) Detach(ctx context.Context) error {
	if h.detached.Load() {
		return errors.New(ErrAlreadyDetached, "handle already detached")
	}
	_, err := h.submit(ctx, newRequest(janusDetach))
	if err != nil {
		return err
	}
	h.detachLocal(errors.New(ErrHandleDetached, "handle detached"))
	return nil
}

// detachLocal makes the handle unusable without talking to the server:
// pending handle requests fail with cause. Idempotent.
func (h *Handle) detachLocal(cause error) {
	if !h.detached.CompareAndSwap(false, true) {
		return
	}
	h.session.handles.Delete(h.id)
	h.session.conn.txs.closeAll(h, cause)
	handlesActive.Add(context.Background(), -1)
	h.logger.Info("handle detached",
		log.Int64("session_id", h.session.id), log.Int64("handle_id", h.id))
	h.emit(EventHandleDetached, h.id)
}

// receive runs on the transport read goroutine.
func (h *Handle) receive(msg *Message) {
	if msg.Transaction != "" {
		if tx, ok := h.session.conn.txs.get(msg.Transaction); ok && tx.owner == h {
			h.settle(tx, msg)
			return
		}
	}
	h.notify(msg)
}

// settle applies a reply to the handle-owned transaction it names.
func (h *Handle) settle(tx *transaction, msg *Message) {
	txs := h.session.conn.txs
	switch msg.Janus {
	case janusAck:
		// only trickles complete on a bare ack
		if tx.request == janusTrickle {
			txs.closeSuccess(tx.id, h, txResult{msg: msg})
		}
	case janusError:
		txs.closeError(tx.id, h, janusErr(msg.Error))
	case janusSuccess:
		if tx.request == janusHangup || tx.request == janusDetach {
			txs.closeSuccess(tx.id, h, txResult{msg: msg})
			return
		}
		h.settleWithAdapter(tx, msg)
	default:
		h.settleWithAdapter(tx, msg)
	}
}

func (h *Handle) settleWithAdapter(tx *transaction, msg *Message) {
	txs := h.session.conn.txs
	if h.adapter != nil {
		if ev, ok := h.adapter.Decode(msg); ok {
			if ev.Err != nil {
				txs.closeError(tx.id, h, ev.Err)
				return
			}
			txs.closeSuccess(tx.id, h, txResult{msg: msg, event: ev})
			return
		}
	}
	txs.closeSuccess(tx.id, h, txResult{msg: msg, event: rawPluginEvent(msg)})
}

// notify delivers a frame that settles no transaction of this handle.
func (h *Handle) notify(msg *Message) {
	switch msg.Janus {
	case janusEvent:
		h.notifyEvent(msg)
	case janusDetached:
		h.detachLocal(errors.New(ErrHandleDetached, "handle detached by server"))
	case janusHangup:
		h.emit(EventHandleHangup, HangupData{Reason: msg.Reason})
	case janusMedia:
		h.emit(EventHandleMedia, MediaData{
			Type:      msg.Type,
			Receiving: utils.Get(msg.Receiving),
		})
	case janusWebrtcUp:
		h.emit(EventHandleWebRTCUp, nil)
	case janusSlowlink:
		h.emit(EventHandleSlowlink, SlowlinkData{
			Uplink: utils.Get(msg.Uplink),
			Nacks:  msg.Nacks,
		})
	case janusTrickle:
		h.notifyTrickle(msg)
	default:
		h.logger.Debug("dropping unroutable handle frame",
			log.Int64("handle_id", h.id), log.String("janus", msg.Janus))
	}
}

func (h *Handle) notifyEvent(msg *Message) {
	txs := h.session.conn.txs
	if h.adapter == nil {
		h.logger.Debug("plugin event without adapter",
			log.Int64("handle_id", h.id))
		return
	}

	ev, decoded := h.adapter.Decode(msg)

	// some plugins answer a request with an event that does not carry
	// the transaction; the adapter can correlate it back
	if corr, ok := h.adapter.(Correlator); ok {
		if id, found := corr.Correlate(msg); found && txs.ownerOf(id) == h {
			switch {
			case !decoded:
				txs.closeError(id, h, errors.New(ErrUnmanagedEvent, "correlated event not decodable"))
			case ev.Err != nil:
				txs.closeError(id, h, ev.Err)
			default:
				txs.closeSuccess(id, h, txResult{msg: msg, event: ev})
			}
			return
		}
	}

	if !decoded {
		h.logger.Debug("unhandled plugin event",
			log.Int64("handle_id", h.id), log.String("plugin", h.plugin))
		return
	}
	if ev.Err != nil {
		h.emit(ev.Name, ev.Err)
		return
	}
	h.emit(ev.Name, ev)
}

func (h *Handle) notifyTrickle(msg *Message) {
	data := TrickleData{}
	if msg.Candidate != nil {
		var cand Candidate
		if err := json.Unmarshal(*msg.Candidate, &cand); err != nil {
			h.logger.Warn("dropping malformed trickle candidate",
				log.Int64("handle_id", h.id), log.Error(err))
			return
		}
		if cand.Completed {
			data.Completed = true
		} else {
			data.Candidate = &cand
		}
	} else {
		data.Completed = true
	}
	h.emit(EventHandleTrickle, data)
}
