package mqttsync

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"strconv"
	"strings"
)

// RPC wire convention: for a command topic C, requests travel on
// C/request and responses on C/response/<id>. Both directions are QoS 2
// and never retained.
const (
	requestSuffix  = "/request"
	responseSuffix = "/response"
	rpcQoS         = 2
)

// Handler services one RPC command. A returned error suppresses the
// response entirely; the caller is expected to time out via its context.
type Handler func(args any) (any, error)

// rpcRequest is the request envelope.
type rpcRequest struct {
	ID   string `json:"id"`
	Args any    `json:"args"`
}

// rpcResponse is the response envelope.
type rpcResponse struct {
	ID     string `json:"id"`
	Result any    `json:"result"`
}

// Register installs a handler for a command topic and subscribes its
// request topic. Handlers run on the inbound delivery goroutine and
// should not block for extended periods.
func (s *Sync) Register(command string, handler Handler) {
	command = strings.TrimSuffix(command, "/")
	reqTopic := command + requestSuffix

	s.mu.Lock()
	s.rpcHandlers[reqTopic] = handler
	s.mu.Unlock()

	s.client.Subscribe(reqTopic, rpcQoS, func(err error, granted []Grant) {
		if err != nil {
			s.log.Warn("rpc register subscription failed", "command", command, "error", err)
			return
		}
		for _, g := range granted {
			if g.QoS >= DeniedQoS {
				s.log.Warn("rpc register subscription denied", "command", command)
			}
		}
	})
}

// Call invokes a registered command and delivers the handler's result to
// cb. The response subscription is removed once the response arrives; a
// lost response leaves the callback pending forever, so callers that need
// a timeout use CallContext.
func (s *Sync) Call(command string, args any, cb func(result any)) {
	s.call(command, args, cb)
}

// call is Call returning the response topic for targeted cleanup.
func (s *Sync) call(command string, args any, cb func(result any)) string {
	command = strings.TrimSuffix(command, "/")
	id := correlationID()
	respTopic := command + responseSuffix + "/" + id

	s.mu.Lock()
	s.rpcCalls[respTopic] = cb
	s.mu.Unlock()

	// The request goes out only after the response subscription is
	// granted, otherwise a fast responder could beat the subscription.
	s.client.Subscribe(respTopic, rpcQoS, func(err error, granted []Grant) {
		if err != nil {
			s.log.Warn("rpc response subscription failed", "command", command, "error", err)
			return
		}
		for _, g := range granted {
			if g.QoS >= DeniedQoS {
				s.log.Warn("rpc response subscription denied", "command", command)
				return
			}
		}
		payload, err := json.Marshal(rpcRequest{ID: id, Args: args})
		if err != nil {
			s.log.Error("encoding rpc request failed", "command", command, "error", err)
			return
		}
		if err := s.client.Publish(command+requestSuffix, payload, rpcQoS, false); err != nil {
			s.log.Warn("rpc request publish failed", "command", command, "error", err)
		}
	})
	return respTopic
}

// CallContext is the future-style form of Call: it blocks until the
// response arrives or the context ends, in which case the pending
// callback is dropped and the response topic unsubscribed.
func (s *Sync) CallContext(ctx context.Context, command string, args any) (any, error) {
	results := make(chan any, 1)

	respTopic := s.call(command, args, func(result any) {
		results <- result
	})

	select {
	case result := <-results:
		return result, nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.rpcCalls, respTopic)
		s.mu.Unlock()
		if err := s.client.Unsubscribe(respTopic); err != nil {
			s.log.Debug("rpc cleanup unsubscribe failed", "topic", respTopic, "error", err)
		}
		return nil, ErrCallAborted
	}
}

// dispatchRequest parses one inbound request, runs the handler, and
// publishes the response. Handler errors emit no response.
func (s *Sync) dispatchRequest(reqTopic string, handler Handler, payload []byte) {
	var req rpcRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.log.Warn("malformed rpc request", "topic", reqTopic, "error", err)
		return
	}

	result, err := handler(req.Args)
	if err != nil {
		s.log.Warn("rpc handler failed", "topic", reqTopic, "id", req.ID, "error", err)
		return
	}

	command := strings.TrimSuffix(reqTopic, requestSuffix)
	out, err := json.Marshal(rpcResponse{ID: req.ID, Result: result})
	if err != nil {
		s.log.Error("encoding rpc response failed", "topic", reqTopic, "error", err)
		return
	}
	respTopic := command + responseSuffix + "/" + req.ID
	if err := s.client.Publish(respTopic, out, rpcQoS, false); err != nil {
		s.log.Warn("rpc response publish failed", "topic", respTopic, "error", err)
	}
}

// dispatchResponse parses one inbound response, removes the response
// subscription, and delivers the result.
func (s *Sync) dispatchResponse(respTopic string, cb func(result any), payload []byte) {
	if err := s.client.Unsubscribe(respTopic); err != nil {
		s.log.Debug("rpc response unsubscribe failed", "topic", respTopic, "error", err)
	}

	var resp rpcResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		s.log.Warn("malformed rpc response", "topic", respTopic, "error", err)
		return
	}
	if cb != nil {
		cb(resp.Result)
	}
}

// correlationID returns a random 6-byte token in base-36, tying a request
// to its response topic.
func correlationID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand never fails on supported platforms; fall back to a
		// fixed token rather than panic in a messaging path.
		return "000000"
	}
	var n uint64
	for _, x := range b {
		n = n<<8 | uint64(x)
	}
	return strconv.FormatUint(n, 36)
}
