package pollrpc

import (
	"context"
	"log/slog"
)

// dispatch handles one received message. Arrays are handled element by element.
func (c *Client) dispatch(ctx context.Context, log *slog.Logger, cb *Callbacks, msg Value) {
	switch msg.Kind() {
	case KindArray:
		for _, elem := range msg.Elems() {
			c.dispatch(ctx, log, cb, elem)
		}

		return
	case KindObject:
		if hasVersion(msg) && c.dispatchObject(ctx, log, cb, msg) {
			return
		}
	}

	log.WarnContext(ctx, "Invalid message dropped", "message", msg.String())
	cb.runOnInvalidMessage(ctx, msg)
}

func (c *Client) dispatchObject(ctx context.Context, log *slog.Logger, cb *Callbacks, msg Value) bool {
	resp, isResponse, ok := parseResponse(msg)
	if isResponse {
		if ok {
			resolve(ctx, log, c.pending, resp)
		}

		return ok
	}

	reply, ok := c.mux.serveCall(ctx, log, cb, msg)
	if reply != nil {
		c.outbound.push(reply)
	}

	return ok
}

// resolve hands resp to the caller waiting for it. Replies to pings are dropped silently.
func resolve(ctx context.Context, log *slog.Logger, pending *pendingTable, resp response) {
	pc, ok := pending.take(resp.id)
	if !ok {
		if resp.id != pingID {
			log.WarnContext(ctx, "Response for unknown id dropped", "id", resp.id)
		}

		return
	}

	if resp.err != nil {
		pc.caller.OnProcedureError(resp.err.Code, resp.err.Message, resp.err.Data, pc.id)

		return
	}

	pc.caller.OnProcedureResult(resp.result, pc.id)
}
