package protocol

// MessageKind identifies one control message crossing the boundary.
type MessageKind string

// Message kinds. Batches travel as MsgBatch; the rest are control traffic.
const (
	MsgBatch           MessageKind = "BATCH"
	MsgCallFunction    MessageKind = "CALL_FUNCTION"
	MsgReleaseFunction MessageKind = "RELEASE_FUNCTION"
	MsgHostEvent       MessageKind = "HOST_EVENT"
	MsgConfigUpdate    MessageKind = "CONFIG_UPDATE"
	MsgDestroy         MessageKind = "DESTROY"
	MsgPromiseResolve  MessageKind = "PROMISE_RESOLVE"
	MsgPromiseReject   MessageKind = "PROMISE_REJECT"
	MsgRefMethodResult MessageKind = "REF_METHOD_RESULT"
	MsgBackpressure    MessageKind = "BACKPRESSURE"
)

// Message is the envelope for everything that crosses the boundary. Only
// the fields for the given kind are meaningful. All payload fields hold
// wire-form values (see the codec package); live values never cross.
type Message struct {
	Kind MessageKind `json:"kind"`

	// MsgBatch
	Batch *Batch `json:"batch,omitempty"`

	// MsgCallFunction, MsgReleaseFunction
	FnID int64 `json:"fnId,omitempty"`
	Args []any `json:"args,omitempty"`

	// MsgHostEvent
	EventName string `json:"eventName,omitempty"`
	Payload   any    `json:"payload,omitempty"`

	// MsgConfigUpdate
	Config map[string]any `json:"config,omitempty"`

	// MsgPromiseResolve, MsgPromiseReject
	PromiseID int64 `json:"promiseId,omitempty"`
	Value     any   `json:"value,omitempty"`

	// MsgPromiseReject, MsgRefMethodResult: serialized error form.
	Error any `json:"error,omitempty"`

	// MsgRefMethodResult. CallID also correlates a MsgCallFunction with
	// its reply when the caller wants one.
	RefID  int64  `json:"refId,omitempty"`
	CallID string `json:"callId,omitempty"`
	Result any    `json:"result,omitempty"`

	// MsgBackpressure: operations the receiver could not apply this call.
	Skipped int `json:"skipped,omitempty"`
}

// BatchMessage wraps a batch for transport.
func BatchMessage(b Batch) Message {
	return Message{Kind: MsgBatch, Batch: &b}
}

// CallFunction builds a cross-boundary callable invocation. A caller that
// wants the result sets CallID and watches for a matching method result.
func CallFunction(fnID int64, args []any) Message {
	return Message{Kind: MsgCallFunction, FnID: fnID, Args: args}
}

// ReleaseFunction tells the owning side a callable id is no longer
// referenced.
func ReleaseFunction(fnID int64) Message {
	return Message{Kind: MsgReleaseFunction, FnID: fnID}
}

// HostEvent builds a named host-to-guest event.
func HostEvent(name string, payload any) Message {
	return Message{Kind: MsgHostEvent, EventName: name, Payload: payload}
}

// ConfigUpdate pushes a configuration table to the guest.
func ConfigUpdate(config map[string]any) Message {
	return Message{Kind: MsgConfigUpdate, Config: config}
}

// Destroy signals full teardown.
func Destroy() Message {
	return Message{Kind: MsgDestroy}
}

// PromiseResolve settles the pending result promiseID with value.
func PromiseResolve(promiseID int64, value any) Message {
	return Message{Kind: MsgPromiseResolve, PromiseID: promiseID, Value: value}
}

// PromiseReject settles the pending result promiseID with an error.
func PromiseReject(promiseID int64, errValue any) Message {
	return Message{Kind: MsgPromiseReject, PromiseID: promiseID, Error: errValue}
}

// RefMethodResult answers a REF_CALL. Exactly one of result or errValue is
// set; the callID is the caller's correlation token.
func RefMethodResult(refID int64, callID string, result any, errValue any) Message {
	return Message{Kind: MsgRefMethodResult, RefID: refID, CallID: callID, Result: result, Error: errValue}
}

// Backpressure notifies the producer that skipped operations were not
// applied.
func Backpressure(skipped int) Message {
	return Message{Kind: MsgBackpressure, Skipped: skipped}
}
