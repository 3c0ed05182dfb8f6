package device

import (
	"encoding/json"
	"strings"
)

// Capability types reported by the cloud control plane.
const (
	// CapabilityServerAction is the custom capability a voice-triggered
	// scenario drives on its launch device.
	CapabilityServerAction = "devices.capabilities.quasar.server_action"

	// CapabilityOnOff is the standard power capability.
	CapabilityOnOff = "devices.capabilities.on_off"
)

// Server action instances. Only these two are usable as scenario actions.
const (
	InstanceText   = "text"
	InstancePhrase = "phrase_action"
)

// TriggerVoice is the scenario trigger type for spoken phrases.
const TriggerVoice = "scenario.trigger.voice"

// speakerTypePrefix matches every smart speaker model.
const speakerTypePrefix = "devices.types.smart_speaker"

// Device is one entry of the account's device list.
type Device struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Type         string       `json:"type"`
	Room         string       `json:"room,omitempty"`
	Household    string       `json:"household_id,omitempty"`
	QuasarInfo   *QuasarInfo  `json:"quasar_info,omitempty"`
	Capabilities []Capability `json:"capabilities"`
	Properties   []Property   `json:"properties,omitempty"`
}

// QuasarInfo identifies a speaker on the local network side.
type QuasarInfo struct {
	DeviceID string `json:"device_id"`
	Platform string `json:"platform"`
}

// Capability is a raw capability descriptor.
type Capability struct {
	Type        string           `json:"type"`
	Retrievable bool             `json:"retrievable,omitempty"`
	State       *CapabilityState `json:"state,omitempty"`
	Parameters  json.RawMessage  `json:"parameters,omitempty"`
}

// CapabilityState is the instance/value pair of a capability.
type CapabilityState struct {
	Instance string `json:"instance"`
	Value    any    `json:"value"`
}

// Property is a raw property descriptor.
type Property struct {
	Type       string          `json:"type"`
	State      json.RawMessage `json:"state,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// Platform returns the hardware platform, or "" for non-speaker devices.
func (d Device) Platform() string {
	if d.QuasarInfo == nil {
		return ""
	}
	return d.QuasarInfo.Platform
}

// IsSpeaker reports whether d is a smart speaker.
func (d Device) IsSpeaker() bool {
	return strings.HasPrefix(d.Type, speakerTypePrefix) && d.QuasarInfo != nil
}

// DeepCopy returns an independent copy of the Device.
func (d Device) DeepCopy() Device {
	cpy := d
	if d.QuasarInfo != nil {
		qi := *d.QuasarInfo
		cpy.QuasarInfo = &qi
	}
	if d.Capabilities != nil {
		cpy.Capabilities = make([]Capability, len(d.Capabilities))
		for i, c := range d.Capabilities {
			if c.State != nil {
				st := *c.State
				c.State = &st
			}
			cpy.Capabilities[i] = c
		}
	}
	if d.Properties != nil {
		cpy.Properties = make([]Property, len(d.Properties))
		copy(cpy.Properties, d.Properties)
	}
	return cpy
}

// DeviceList is the cloud device snapshot plus the push feed address.
type DeviceList struct {
	Devices    map[string]Device
	UpdatesURL string
}

// ScenarioSummary is one entry of the scenario list.
type ScenarioSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// ScenarioDetail is the full scenario record.
type ScenarioDetail struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Triggers []ScenarioTrigger `json:"triggers"`
	Steps    []ScenarioStep    `json:"steps"`
}

// ScenarioTrigger is a raw trigger. Value is a string for voice triggers.
type ScenarioTrigger struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// ScenarioStep is one step of a scenario.
type ScenarioStep struct {
	Type       string             `json:"type"`
	Parameters ScenarioStepParams `json:"parameters"`
}

// ScenarioStepParams lists the devices a step launches.
type ScenarioStepParams struct {
	LaunchDevices []LaunchDevice `json:"launch_devices"`
}

// LaunchDevice is a device targeted by a scenario step.
type LaunchDevice struct {
	ID           string       `json:"id"`
	Capabilities []Capability `json:"capabilities"`
}

// Action is the action a voice scenario performs.
type Action struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Scenario is the normalised view of a voice-triggered scenario.
type Scenario struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Trigger  string `json:"trigger"`
	Action   Action `json:"action"`
	DeviceID string `json:"device_id"`
}

// Usable reports whether the scenario's action kind is one the
// station can replay.
func (s Scenario) Usable() bool {
	return s.Action.Type == InstanceText || s.Action.Type == InstancePhrase
}

// Push feed operations.
const (
	OperationDeviceList   = "update_device_list"
	OperationScenarioList = "update_scenario_list"
	OperationStates       = "update_states"
)

// Sources of an update_states message.
const (
	SourceAction   = "action"
	SourceQuery    = "query"
	SourceCallback = "callback"
)

// PushMessage is one frame of the push feed. Message holds a JSON
// document, either inline or encoded as a string.
type PushMessage struct {
	Operation string          `json:"operation"`
	Message   json.RawMessage `json:"message"`
}

// StatesUpdate is the payload of an update_states message.
type StatesUpdate struct {
	UpdatedDevices []DeviceUpdate `json:"updated_devices"`
	Source         string         `json:"source"`
}

// DeviceUpdate carries the changed capabilities of one device.
type DeviceUpdate struct {
	ID           string       `json:"id"`
	Capabilities []Capability `json:"capabilities"`
	Properties   []Property   `json:"properties,omitempty"`
}

// ScenarioListUpdate is the payload of an update_scenario_list message.
type ScenarioListUpdate struct {
	Scenarios []ScenarioSummary `json:"scenarios"`
}

// DeviceListUpdate is the payload of an update_device_list message.
type DeviceListUpdate struct {
	Households []Household `json:"households"`
}

// Household groups devices as the cloud reports them.
type Household struct {
	ID  string   `json:"id"`
	All []Device `json:"all"`
}

// Flatten indexes every device of every household by id.
func Flatten(households []Household) map[string]Device {
	out := make(map[string]Device)
	for _, h := range households {
		for _, d := range h.All {
			if d.Household == "" {
				d.Household = h.ID
			}
			out[d.ID] = d
		}
	}
	return out
}

// ScenarioRun is emitted when a voice scenario fires.
type ScenarioRun struct {
	Scenario Scenario `json:"scenario"`
	DeviceID string   `json:"device_id"`
}
