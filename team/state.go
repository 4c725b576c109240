package team

import (
	"encoding/json"
	"fmt"
)

// teamState is the serialized snapshot of the team conversation. Loading a
// snapshot into a fresh team must reproduce equivalent future behavior to
// continuing the original conversation.
type teamState struct {
	Version    int    `json:"version"`
	Turns      []Turn `json:"turns"`
	ExecutedOK bool   `json:"executed_ok"`
}

const stateVersion = 1

// SaveState returns an opaque snapshot of the conversation's internal memory.
func (t *Team) SaveState() ([]byte, error) {
	state := teamState{
		Version:    stateVersion,
		Turns:      t.history,
		ExecutedOK: t.executedOK,
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal team state: %w", err)
	}
	return data, nil
}

// LoadState restores a previously saved snapshot. The executed-successfully
// flag deliberately resets per run: the termination guard demands fresh
// execution evidence for every query.
func (t *Team) LoadState(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var state teamState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("unmarshal team state: %w", err)
	}
	if state.Version != stateVersion {
		return fmt.Errorf("unsupported team state version %d", state.Version)
	}
	t.history = state.Turns
	t.executedOK = false
	return nil
}
