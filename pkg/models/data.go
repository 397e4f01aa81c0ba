package models

// Data payloads submitted by clients. Entities and fields are positional:
// they line up with the brain spec's entity and field order, which is how
// validation pairs each value with its type.

// ActionSource tags where a step's action came from.
type ActionSource string

const (
	SourceHumanDemonstration ActionSource = "HUMAN_DEMONSTRATION"
	SourceBrainAction        ActionSource = "BRAIN_ACTION"
	SourceNoSource           ActionSource = "NO_SOURCE"
)

// ObservationData mirrors ObservationSpec.
type ObservationData struct {
	Player         *EntityData  `json:"player,omitempty"`
	Camera         *EntityData  `json:"camera,omitempty"`
	GlobalEntities []EntityData `json:"global_entities,omitempty"`
}

// EntityData mirrors EntityType.
type EntityData struct {
	Position *Position    `json:"position,omitempty"`
	Rotation *Rotation    `json:"rotation,omitempty"`
	Fields   []FieldValue `json:"entity_fields,omitempty"`
}

// Position is a 3D coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Rotation is a quaternion; validation requires it to be normalized.
type Rotation struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// FieldValue holds exactly one of the typed members.
type FieldValue struct {
	Number   *NumberValue   `json:"number,omitempty"`
	Category *CategoryValue `json:"category,omitempty"`
	Feeler   *FeelerValue   `json:"feeler,omitempty"`
}

// NumberValue is a scalar sample.
type NumberValue struct {
	Value float64 `json:"value"`
}

// CategoryValue indexes the spec's enum values.
type CategoryValue struct {
	Value int `json:"value"`
}

// FeelerValue carries one measurement per spec ray.
type FeelerValue struct {
	Measurements []FeelerMeasurement `json:"measurements"`
}

// FeelerMeasurement is one ray's distance plus experimental channels.
type FeelerMeasurement struct {
	Distance         NumberValue   `json:"distance"`
	ExperimentalData []NumberValue `json:"experimental_data,omitempty"`
}

// ActionData mirrors ActionSpec; Actions is positional against the spec's
// action list.
type ActionData struct {
	Source  ActionSource  `json:"source,omitempty"`
	Actions []ActionValue `json:"actions,omitempty"`
}

// ActionValue holds exactly one of the typed members.
type ActionValue struct {
	Number   *NumberValue   `json:"number,omitempty"`
	Category *CategoryValue `json:"category,omitempty"`
	Joystick *JoystickValue `json:"joystick,omitempty"`
}

// JoystickValue is a two-axis sample with components in [-1, 1].
type JoystickValue struct {
	XAxis float64 `json:"x_axis"`
	YAxis float64 `json:"y_axis"`
}
