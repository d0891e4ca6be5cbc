// SPDX-License-Identifier: MIT

package ipc

import (
	"encoding/json"
	"fmt"
)

// ResponseStatus is the outcome of a command.
type ResponseStatus string

const (
	StatusOk                   ResponseStatus = "Ok"
	StatusServiceAlreadyExists ResponseStatus = "ServiceAlreadyExists"
	StatusServiceDoesNotExist  ResponseStatus = "ServiceDoesNotExist"
)

// ResponseKindTag names which variant of ResponseKind is present.
type ResponseKindTag string

const (
	KindNone         ResponseKindTag = "None"
	KindServiceStat  ResponseKindTag = "ServiceStatus"
	KindServiceListT ResponseKindTag = "ServiceList"
)

// ServiceStatusPayload reports one service's definition, running flag, and
// log snapshot.
type ServiceStatusPayload struct {
	Service ServiceDefinition `json:"service"`
	Running bool              `json:"running"`
	Logs    string            `json:"logs"`
}

// ServiceListPayload maps every known service name to its definition
// snapshot.
type ServiceListPayload struct {
	Services map[string]ServiceDefinition `json:"services"`
}

// ResponseKind is the externally-tagged union of response payloads. None is
// a unit variant (bare string); the other two are struct variants.
type ResponseKind struct {
	Tag     ResponseKindTag
	Status  *ServiceStatusPayload
	List    *ServiceListPayload
}

// MarshalJSON renders None as a bare string and the others as single-key
// objects.
func (k ResponseKind) MarshalJSON() ([]byte, error) {
	switch k.Tag {
	case KindNone, "":
		return json.Marshal(string(KindNone))
	case KindServiceStat:
		if k.Status == nil {
			return nil, fmt.Errorf("ipc: %s kind missing payload", k.Tag)
		}
		return json.Marshal(map[string]*ServiceStatusPayload{string(k.Tag): k.Status})
	case KindServiceListT:
		if k.List == nil {
			return nil, fmt.Errorf("ipc: %s kind missing payload", k.Tag)
		}
		return json.Marshal(map[string]*ServiceListPayload{string(k.Tag): k.List})
	default:
		return nil, fmt.Errorf("ipc: unknown response kind %q", k.Tag)
	}
}

// UnmarshalJSON accepts either the bare string "None" or a single-key object.
func (k *ResponseKind) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		if ResponseKindTag(asString) != KindNone {
			return fmt.Errorf("ipc: unknown unit response kind %q", asString)
		}
		*k = ResponseKind{Tag: KindNone}
		return nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return fmt.Errorf("ipc: decoding ResponseKind: %w", err)
	}
	if len(wrapper) != 1 {
		return fmt.Errorf("ipc: ResponseKind object must have exactly one key, got %d", len(wrapper))
	}
	for tag, raw := range wrapper {
		switch ResponseKindTag(tag) {
		case KindServiceStat:
			var p ServiceStatusPayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("ipc: decoding %s: %w", tag, err)
			}
			*k = ResponseKind{Tag: KindServiceStat, Status: &p}
		case KindServiceListT:
			var p ServiceListPayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("ipc: decoding %s: %w", tag, err)
			}
			*k = ResponseKind{Tag: KindServiceListT, List: &p}
		default:
			return fmt.Errorf("ipc: unknown response kind %q", tag)
		}
	}
	return nil
}

// Response is the daemon's reply to a Command. A non-Ok Status always
// carries Kind = None.
type Response struct {
	Status ResponseStatus `json:"status"`
	Kind   ResponseKind   `json:"kind"`
}

// OkNone is the common "succeeded, nothing to report" response.
func OkNone() Response {
	return Response{Status: StatusOk, Kind: ResponseKind{Tag: KindNone}}
}

// OkStatus wraps a service status payload in a successful response.
func OkStatus(p ServiceStatusPayload) Response {
	return Response{Status: StatusOk, Kind: ResponseKind{Tag: KindServiceStat, Status: &p}}
}

// OkList wraps a service list payload in a successful response.
func OkList(p ServiceListPayload) Response {
	return Response{Status: StatusOk, Kind: ResponseKind{Tag: KindServiceListT, List: &p}}
}

// Err builds a non-Ok response carrying no payload.
func Err(status ResponseStatus) Response {
	return Response{Status: status, Kind: ResponseKind{Tag: KindNone}}
}
