// SPDX-License-Identifier: MIT

package ipc

import (
	"encoding/json"
	"fmt"
)

// CommandTag names which variant of Command is present.
type CommandTag string

const (
	TagAddSynchronousService  CommandTag = "AddSynchronousService"
	TagAddAsynchronousService CommandTag = "AddAsynchronousService"
	TagRemoveService          CommandTag = "RemoveService"
	TagStartService           CommandTag = "StartService"
	TagStopService            CommandTag = "StopService"
	TagRestartService         CommandTag = "RestartService"
	TagGetServiceStatus       CommandTag = "GetServiceStatus"
	TagListServices           CommandTag = "ListServices"
)

// AddSynchronousServicePayload is the field set carried by
// AddSynchronousService.
type AddSynchronousServicePayload struct {
	Name             string            `json:"name"`
	WorkingDirectory string            `json:"working_directory"`
	Environment      map[string]string `json:"environment"`
	Group            *string           `json:"group"`
	Command          []string          `json:"command"`
}

// AddAsynchronousServicePayload is the field set carried by
// AddAsynchronousService.
type AddAsynchronousServicePayload struct {
	Name             string            `json:"name"`
	WorkingDirectory string            `json:"working_directory"`
	Environment      map[string]string `json:"environment"`
	Group            *string           `json:"group"`
	StartCommand     []string          `json:"start_command"`
	StopCommand      []string          `json:"stop_command"`
}

// NamedServicePayload is the field set shared by the five commands that act
// on a single existing service by name.
type NamedServicePayload struct {
	Name string `json:"name"`
}

// Command is the externally-tagged union of every client-to-daemon request.
// Exactly one payload field is populated, selected by Tag; ListServices
// carries no payload and serializes as the bare string "ListServices".
type Command struct {
	Tag CommandTag

	AddSynchronousService  *AddSynchronousServicePayload
	AddAsynchronousService *AddAsynchronousServicePayload
	Named                  *NamedServicePayload // Remove/Start/Stop/Restart/GetServiceStatus
}

// NewAddSynchronousService builds an AddSynchronousService command.
func NewAddSynchronousService(p AddSynchronousServicePayload) Command {
	return Command{Tag: TagAddSynchronousService, AddSynchronousService: &p}
}

// NewAddAsynchronousService builds an AddAsynchronousService command.
func NewAddAsynchronousService(p AddAsynchronousServicePayload) Command {
	return Command{Tag: TagAddAsynchronousService, AddAsynchronousService: &p}
}

func newNamed(tag CommandTag, name string) Command {
	return Command{Tag: tag, Named: &NamedServicePayload{Name: name}}
}

// NewRemoveService builds a RemoveService command.
func NewRemoveService(name string) Command { return newNamed(TagRemoveService, name) }

// NewStartService builds a StartService command.
func NewStartService(name string) Command { return newNamed(TagStartService, name) }

// NewStopService builds a StopService command.
func NewStopService(name string) Command { return newNamed(TagStopService, name) }

// NewRestartService builds a RestartService command.
func NewRestartService(name string) Command { return newNamed(TagRestartService, name) }

// NewGetServiceStatus builds a GetServiceStatus command.
func NewGetServiceStatus(name string) Command { return newNamed(TagGetServiceStatus, name) }

// NewListServices builds the unit ListServices command.
func NewListServices() Command { return Command{Tag: TagListServices} }

// MarshalJSON renders unit variants as bare strings and struct variants as
// single-key objects, matching serde's default external tagging.
func (c Command) MarshalJSON() ([]byte, error) {
	switch c.Tag {
	case TagListServices:
		return json.Marshal(string(c.Tag))
	case TagAddSynchronousService:
		if c.AddSynchronousService == nil {
			return nil, fmt.Errorf("ipc: %s command missing payload", c.Tag)
		}
		return json.Marshal(map[string]*AddSynchronousServicePayload{string(c.Tag): c.AddSynchronousService})
	case TagAddAsynchronousService:
		if c.AddAsynchronousService == nil {
			return nil, fmt.Errorf("ipc: %s command missing payload", c.Tag)
		}
		return json.Marshal(map[string]*AddAsynchronousServicePayload{string(c.Tag): c.AddAsynchronousService})
	case TagRemoveService, TagStartService, TagStopService, TagRestartService, TagGetServiceStatus:
		if c.Named == nil {
			return nil, fmt.Errorf("ipc: %s command missing payload", c.Tag)
		}
		return json.Marshal(map[string]*NamedServicePayload{string(c.Tag): c.Named})
	default:
		return nil, fmt.Errorf("ipc: unknown command tag %q", c.Tag)
	}
}

// UnmarshalJSON accepts either a bare string (unit variant) or a single-key
// object (struct variant).
func (c *Command) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		if CommandTag(asString) != TagListServices {
			return fmt.Errorf("ipc: unknown unit command %q", asString)
		}
		*c = Command{Tag: TagListServices}
		return nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return fmt.Errorf("ipc: decoding Command: %w", err)
	}
	if len(wrapper) != 1 {
		return fmt.Errorf("ipc: Command object must have exactly one key, got %d", len(wrapper))
	}
	for tag, raw := range wrapper {
		switch CommandTag(tag) {
		case TagAddSynchronousService:
			var p AddSynchronousServicePayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("ipc: decoding %s: %w", tag, err)
			}
			*c = Command{Tag: TagAddSynchronousService, AddSynchronousService: &p}
		case TagAddAsynchronousService:
			var p AddAsynchronousServicePayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("ipc: decoding %s: %w", tag, err)
			}
			*c = Command{Tag: TagAddAsynchronousService, AddAsynchronousService: &p}
		case TagRemoveService, TagStartService, TagStopService, TagRestartService, TagGetServiceStatus:
			var p NamedServicePayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("ipc: decoding %s: %w", tag, err)
			}
			*c = Command{Tag: CommandTag(tag), Named: &p}
		default:
			return fmt.Errorf("ipc: unknown command tag %q", tag)
		}
	}
	return nil
}
