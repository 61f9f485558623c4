// Package scenario replays scripted call lifecycles through the bridge engine. A
// scenario is a YAML file of steps; every primitive the engine emits is written to a
// transcript, one line each.
package scenario

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dense-identity/callsync/internal/telecom"
)

// Scenario is a scripted sequence of call events and accessory commands.
type Scenario struct {
	Name string `yaml:"name"`

	// DualIdentity defaults to true, like the engine.
	DualIdentity     *bool         `yaml:"dual_identity"`
	VoiceCapability  string        `yaml:"voice_capability"`
	SubscriberNumber string        `yaml:"subscriber_number"`
	NetworkCountry   string        `yaml:"network_country"`
	PacingDelay      time.Duration `yaml:"pacing_delay"`

	// Sinks lists the protocol sinks to connect: "legacy", "list". Both when empty.
	Sinks []string `yaml:"sinks"`

	Steps []Step `yaml:"steps"`
}

// Step is exactly one call event or one command.
type Step struct {
	Add      *CallSpec `yaml:"add,omitempty"`
	State    *CallSpec `yaml:"state,omitempty"`
	Remove   *CallSpec `yaml:"remove,omitempty"`
	Parent   *CallSpec `yaml:"parent,omitempty"`
	Children *CallSpec `yaml:"children,omitempty"`
	Details  *CallSpec `yaml:"details,omitempty"`

	// Command is an accessory command, e.g. "answer", "chld 2", "tone 5", "terminate L1".
	Command string `yaml:"command,omitempty"`
}

// CallSpec patches a call snapshot. Zero fields keep the previous value.
type CallSpec struct {
	ID             int      `yaml:"id"`
	State          string   `yaml:"state"`
	Number         string   `yaml:"number"`
	Name           string   `yaml:"name"`
	Incoming       *bool    `yaml:"incoming"`
	Conference     *bool    `yaml:"conference"`
	Parent         *int     `yaml:"parent"`
	Children       []int    `yaml:"children"`
	Conferenceable []int    `yaml:"conferenceable"`
	ActiveChild    *int     `yaml:"active_child"`
	External       *bool    `yaml:"external"`
	SilentRinging  *bool    `yaml:"silent_ringing"`
	HighDef        *bool    `yaml:"high_def"`
	Capabilities   []string `yaml:"capabilities"`
	Cause          string   `yaml:"cause"`
	Force          bool     `yaml:"force"`
}

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario %s: %w", path, err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Parse decodes and validates a scenario.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks that every step names one action on a valid call.
func (sc *Scenario) Validate() error {
	if len(sc.Steps) == 0 {
		return errors.New("scenario has no steps")
	}
	for _, s := range sc.Sinks {
		if s != "legacy" && s != "list" {
			return fmt.Errorf("unknown sink %q", s)
		}
	}
	for i, step := range sc.Steps {
		spec, _ := step.call()
		n := step.actions()
		if n != 1 {
			return fmt.Errorf("step %d: want exactly one action, got %d", i+1, n)
		}
		if step.Command != "" {
			continue
		}
		if spec.ID <= 0 {
			return fmt.Errorf("step %d: call id must be positive", i+1)
		}
		if spec.State != "" {
			if _, err := parseState(spec.State); err != nil {
				return fmt.Errorf("step %d: %w", i+1, err)
			}
		}
		if spec.Cause != "" {
			if _, err := parseCause(spec.Cause); err != nil {
				return fmt.Errorf("step %d: %w", i+1, err)
			}
		}
		if _, err := parseCapabilities(spec.Capabilities); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

func (sc *Scenario) wantSink(name string) bool {
	if len(sc.Sinks) == 0 {
		return true
	}
	for _, s := range sc.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

func (s Step) actions() int {
	n := 0
	for _, c := range []*CallSpec{s.Add, s.State, s.Remove, s.Parent, s.Children, s.Details} {
		if c != nil {
			n++
		}
	}
	if s.Command != "" {
		n++
	}
	return n
}

// call returns the step's call patch and the event it produces.
func (s Step) call() (*CallSpec, telecom.EventKind) {
	switch {
	case s.Add != nil:
		return s.Add, telecom.EventAdded
	case s.State != nil:
		return s.State, telecom.EventStateChanged
	case s.Remove != nil:
		return s.Remove, telecom.EventRemoved
	case s.Parent != nil:
		return s.Parent, telecom.EventParentChanged
	case s.Children != nil:
		return s.Children, telecom.EventChildrenChanged
	case s.Details != nil:
		return s.Details, telecom.EventDetailsChanged
	}
	return nil, 0
}

// apply patches c with the non-zero fields of spec.
func (spec *CallSpec) apply(c *telecom.Call) {
	c.ID = telecom.CallID(spec.ID)
	if spec.State != "" {
		c.State, _ = parseState(spec.State)
	}
	if spec.Number != "" {
		c.Handle = "tel:" + spec.Number
	}
	if spec.Name != "" {
		c.CallerDisplayName = spec.Name
	}
	setBool(&c.Incoming, spec.Incoming)
	setBool(&c.Conference, spec.Conference)
	setBool(&c.External, spec.External)
	setBool(&c.SilentRinging, spec.SilentRinging)
	setBool(&c.HighDefAudio, spec.HighDef)
	if spec.Parent != nil {
		c.ParentID = telecom.CallID(*spec.Parent)
	}
	if spec.ActiveChild != nil {
		c.ActiveChildID = telecom.CallID(*spec.ActiveChild)
	}
	if spec.Children != nil {
		c.ChildrenIDs = callIDs(spec.Children)
	}
	if spec.Conferenceable != nil {
		c.ConferenceableIDs = callIDs(spec.Conferenceable)
	}
	if spec.Capabilities != nil {
		c.Capabilities, _ = parseCapabilities(spec.Capabilities)
	}
	if spec.Cause != "" {
		code, _ := parseCause(spec.Cause)
		c.Disconnect = &telecom.DisconnectCause{Code: code}
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func callIDs(ids []int) []telecom.CallID {
	out := make([]telecom.CallID, len(ids))
	for i, id := range ids {
		out[i] = telecom.CallID(id)
	}
	return out
}

func parseState(s string) (telecom.State, error) {
	key := strings.ReplaceAll(strings.ToLower(s), "_", "")
	for st := telecom.StateNew; st <= telecom.StateAudioProcessing; st++ {
		if strings.ToLower(st.String()) == key {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown call state %q", s)
}

var causes = map[string]telecom.DisconnectCode{
	"unknown":       telecom.DisconnectUnknown,
	"error":         telecom.DisconnectError,
	"local":         telecom.DisconnectLocal,
	"remote":        telecom.DisconnectRemote,
	"canceled":      telecom.DisconnectCanceled,
	"missed":        telecom.DisconnectMissed,
	"rejected":      telecom.DisconnectRejected,
	"busy":          telecom.DisconnectBusy,
	"restricted":    telecom.DisconnectRestricted,
	"other":         telecom.DisconnectOther,
	"not_supported": telecom.DisconnectConnectionManagerNotSupported,
}

func parseCause(s string) (telecom.DisconnectCode, error) {
	code, ok := causes[strings.ToLower(s)]
	if !ok {
		return 0, fmt.Errorf("unknown disconnect cause %q", s)
	}
	return code, nil
}

var capabilities = map[string]telecom.Capability{
	"hold":        telecom.CapHold,
	"merge":       telecom.CapMergeConference,
	"swap":        telecom.CapSwapConference,
	"no_children": telecom.CapConferenceHasNoChildren,
	"manage":      telecom.CapManageConference,
}

func parseCapabilities(names []string) (telecom.Capability, error) {
	var caps telecom.Capability
	for _, n := range names {
		c, ok := capabilities[strings.ToLower(n)]
		if !ok {
			return 0, fmt.Errorf("unknown capability %q", n)
		}
		caps |= c
	}
	return caps, nil
}
