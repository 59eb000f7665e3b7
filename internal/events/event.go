// Package events defines the typed frames emitted by the dedup engine and
// the ingestion controller onto the per-job broadcast bus (§4.9, §6).
package events

import "encoding/json"

type Kind string

const (
	KindConnected Kind = "connected"
	KindStatus    Kind = "status"
	KindItem      Kind = "item"
	KindPending   Kind = "pending"
	KindDrop      Kind = "drop"
	KindConfirm   Kind = "confirm"
	KindRejected  Kind = "rejected"
	KindFinished  Kind = "finished"
	KindError     Kind = "error"
)

// Event is a tagged frame. Data carries the kind-specific payload fields,
// flattened alongside "type" when marshaled, matching the wire shapes in §6.
type Event struct {
	Type Kind
	Data map[string]any
}

func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Data)+1)
	for k, v := range e.Data {
		out[k] = v
	}
	out["type"] = string(e.Type)
	return json.Marshal(out)
}

func Connected(websetID string) Event {
	return Event{Type: KindConnected, Data: map[string]any{"websetId": websetID}}
}

func Status(status string, itemCount *int) Event {
	data := map[string]any{"status": status}
	if itemCount != nil {
		data["itemCount"] = *itemCount
	}
	return Event{Type: KindStatus, Data: data}
}

func Item(item any) Event {
	return Event{Type: KindItem, Data: map[string]any{"item": item}}
}

func Pending(tmpID string) Event {
	return Event{Type: KindPending, Data: map[string]any{"tmpId": tmpID}}
}

func Drop(tmpID string) Event {
	return Event{Type: KindDrop, Data: map[string]any{"tmpId": tmpID}}
}

func Confirm(data any) Event {
	return Event{Type: KindConfirm, Data: map[string]any{"data": data}}
}

func Rejected(item any, reason string, details any, existingItem any) Event {
	data := map[string]any{
		"item":    item,
		"reason":  reason,
		"details": details,
	}
	if existingItem != nil {
		data["existingItem"] = existingItem
	}
	return Event{Type: KindRejected, Data: data}
}

func Finished(totalItems int) Event {
	return Event{Type: KindFinished, Data: map[string]any{"status": "idle", "totalItems": totalItems}}
}

func Error(message string) Event {
	return Event{Type: KindError, Data: map[string]any{"error": message}}
}
