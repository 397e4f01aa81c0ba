package models

// BrainSpec is the schema for a brain's observations and actions. It is
// immutable once the brain is created; every submitted step validates
// against it.
type BrainSpec struct {
	ObservationSpec ObservationSpec `json:"observation_spec"`
	ActionSpec      ActionSpec      `json:"action_spec"`
}

// ObservationSpec describes the root entity tree: an optional player entity,
// an optional camera entity, and a list of global entities.
type ObservationSpec struct {
	Player         *EntityType  `json:"player,omitempty"`
	Camera         *EntityType  `json:"camera,omitempty"`
	GlobalEntities []EntityType `json:"global_entities,omitempty"`
}

// EntityType carries an optional 3D position, an optional unit-quaternion
// rotation, and named typed fields.
type EntityType struct {
	Position *PositionType     `json:"position,omitempty"`
	Rotation *RotationType     `json:"rotation,omitempty"`
	Fields   []EntityFieldType `json:"entity_fields,omitempty"`
}

// PositionType marks a 3-component float observation.
type PositionType struct{}

// RotationType marks a 4-component unit-quaternion observation.
type RotationType struct{}

// EntityFieldType is a named field with exactly one of the typed members
// set.
type EntityFieldType struct {
	Name     string        `json:"name"`
	Number   *NumberType   `json:"number,omitempty"`
	Category *CategoryType `json:"category,omitempty"`
	Feeler   *FeelerType   `json:"feeler,omitempty"`
}

// NumberType is a scalar bounded to [Minimum, Maximum].
type NumberType struct {
	Minimum float64 `json:"minimum"`
	Maximum float64 `json:"maximum"`
}

// CategoryType is an enumerated value; data values index EnumValues.
type CategoryType struct {
	EnumValues []string `json:"enum_values"`
}

// FeelerType is a bundle of Count distance rays, each bounded by Distance,
// with optional experimental channels per ray.
type FeelerType struct {
	Count            int          `json:"count"`
	Distance         NumberType   `json:"distance"`
	YawAngles        []float64    `json:"yaw_angles,omitempty"`
	ExperimentalData []NumberType `json:"experimental_data,omitempty"`
}

// ActionSpec is the named list of actions a brain emits.
type ActionSpec struct {
	Actions []ActionType `json:"actions"`
}

// ActionType is a named action with exactly one of the typed members set.
type ActionType struct {
	Name     string        `json:"name"`
	Number   *NumberType   `json:"number,omitempty"`
	Category *CategoryType `json:"category,omitempty"`
	Joystick *JoystickType `json:"joystick,omitempty"`
}

// Joystick axes modes.
const (
	AxesModeDeltaPitchYaw = "DELTA_PITCH_YAW"
	AxesModeDirectionXZ   = "DIRECTION_XZ"
)

// JoystickType is a two-axis analog action with components in [-1, 1].
type JoystickType struct {
	AxesMode         string `json:"axes_mode"`
	ControlledEntity string `json:"controlled_entity,omitempty"` // "player" or "camera"
	ControlFrame     string `json:"control_frame,omitempty"`
}
