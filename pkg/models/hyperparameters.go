package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Hyperparameters configure one training assignment. The canonical JSON
// serialization of the fully defaulted set is the assignment id, so two
// submissions with the same effective hyperparameters share one assignment.
type Hyperparameters struct {
	FCLayers                []int    `json:"fc_layers"`
	Dropout                 *float64 `json:"dropout"`
	ActivationFn            string   `json:"activation_fn"`
	Initializer             string   `json:"initializer"`
	FeelersVersion          string   `json:"feelers_version"` // "v1" or "v2"
	FeelersV2OutputChannels int      `json:"feelers_v2_output_channels"`
	FeelersV2KernelSize     int      `json:"feelers_v2_kernel_size"`
	BatchSize               int      `json:"batch_size"`
	SaveIntervalBatches     int      `json:"save_interval_batches"`
	MaxTrainingExamples     int64    `json:"max_training_examples"`
	EvalFraction            float64  `json:"eval_fraction"`
	ReplayBufferCapacity    int      `json:"replay_buffer_capacity"`
	SynchronousExport       bool     `json:"synchronous_export"`
	Continuous              bool     `json:"continuous"`
}

// DefaultHyperparameters returns the fully populated default set.
func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{
		FCLayers:                []int{32},
		Dropout:                 nil,
		ActivationFn:            "swish",
		Initializer:             "varianceScaling",
		FeelersVersion:          "v1",
		FeelersV2OutputChannels: 3,
		FeelersV2KernelSize:     5,
		BatchSize:               500,
		SaveIntervalBatches:     20000,
		MaxTrainingExamples:     30000000,
		EvalFraction:            0.1,
		ReplayBufferCapacity:    2000000,
		SynchronousExport:       false,
		Continuous:              true,
	}
}

// ParseHyperparameters overlays a JSON document on the defaults. Unknown
// fields are rejected so typos do not silently train with defaults.
func ParseHyperparameters(doc string) (Hyperparameters, error) {
	h := DefaultHyperparameters()
	dec := json.NewDecoder(bytes.NewReader([]byte(doc)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&h); err != nil {
		return Hyperparameters{}, fmt.Errorf("parsing hyperparameters: %w", err)
	}
	if err := h.Validate(); err != nil {
		return Hyperparameters{}, err
	}
	return h, nil
}

// Validate rejects values the trainer cannot run with.
func (h Hyperparameters) Validate() error {
	if len(h.FCLayers) == 0 {
		return fmt.Errorf("fc_layers must not be empty")
	}
	if h.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", h.BatchSize)
	}
	if h.SaveIntervalBatches <= 0 {
		return fmt.Errorf("save_interval_batches must be positive, got %d", h.SaveIntervalBatches)
	}
	if h.EvalFraction < 0 || h.EvalFraction >= 1 {
		return fmt.Errorf("eval_fraction must be in [0, 1), got %g", h.EvalFraction)
	}
	if h.ReplayBufferCapacity <= 0 {
		return fmt.Errorf("replay_buffer_capacity must be positive, got %d", h.ReplayBufferCapacity)
	}
	if h.Dropout != nil && (*h.Dropout < 0 || *h.Dropout >= 1) {
		return fmt.Errorf("dropout must be in [0, 1), got %g", *h.Dropout)
	}
	switch h.FeelersVersion {
	case "v1", "v2":
	default:
		return fmt.Errorf("feelers_version must be v1 or v2, got %q", h.FeelersVersion)
	}
	return nil
}

// CanonicalID returns the canonical serialization used as the assignment
// id: JSON with lexicographically sorted keys and no insignificant
// whitespace.
func (h Hyperparameters) CanonicalID() string {
	// Round-trip through a map so encoding/json emits sorted keys.
	raw, err := json.Marshal(h)
	if err != nil {
		panic(fmt.Sprintf("marshaling hyperparameters: %v", err))
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		panic(fmt.Sprintf("unmarshaling hyperparameters: %v", err))
	}
	canonical, err := json.Marshal(m)
	if err != nil {
		panic(fmt.Sprintf("canonicalizing hyperparameters: %v", err))
	}
	return string(canonical)
}
