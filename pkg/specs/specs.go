// Package specs parses a brain spec into a typed tree, validates data
// payloads against it, and converts leaves to numeric tensors for training.
package specs

import (
	"fmt"

	"github.com/arcadia-ml/mimic/pkg/models"
)

// InvalidSpecError reports a malformed brain spec with the exact path of the
// offending node.
type InvalidSpecError struct {
	Path    string
	Message string
}

func (e *InvalidSpecError) Error() string {
	return fmt.Sprintf("invalid spec at %s: %s", e.Path, e.Message)
}

// TypingError reports a data payload that does not match the spec.
type TypingError struct {
	Path    string
	Message string
}

func (e *TypingError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Kind enumerates node types in the spec tree.
type Kind int

const (
	KindRoot Kind = iota
	KindEntity
	KindPosition
	KindRotation
	KindNumber
	KindCategory
	KindFeeler
	KindJoystick
)

func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindEntity:
		return "entity"
	case KindPosition:
		return "position"
	case KindRotation:
		return "rotation"
	case KindNumber:
		return "number"
	case KindCategory:
		return "category"
	case KindFeeler:
		return "feeler"
	case KindJoystick:
		return "joystick"
	}
	return "unknown"
}

// Node is one node of the parsed spec tree. Leaves carry exactly one typed
// spec pointer matching Kind.
type Node struct {
	Name     string
	Path     string
	Kind     Kind
	Number   *models.NumberType
	Category *models.CategoryType
	Feeler   *models.FeelerType
	Joystick *models.JoystickType
	Children []*Node
}

// Leaf reports whether the node has no children.
func (n *Node) Leaf() bool { return len(n.Children) == 0 }

// Leaves returns the leaf nodes of the subtree in declaration order.
func (n *Node) Leaves() []*Node {
	if n.Leaf() && n.Kind != KindRoot && n.Kind != KindEntity {
		return []*Node{n}
	}
	var out []*Node
	for _, c := range n.Children {
		out = append(out, c.Leaves()...)
	}
	return out
}

// Tree is the parsed form of a brain spec.
type Tree struct {
	Observation *Node
	Action      *Node
}

// FromSpec parses and validates a brain spec.
func FromSpec(spec models.BrainSpec) (*Tree, error) {
	obs, err := parseObservationSpec(spec.ObservationSpec)
	if err != nil {
		return nil, err
	}
	act, err := parseActionSpec(spec.ActionSpec)
	if err != nil {
		return nil, err
	}
	return &Tree{Observation: obs, Action: act}, nil
}

func parseObservationSpec(spec models.ObservationSpec) (*Node, error) {
	root := &Node{Name: "observation_spec", Path: "observation_spec", Kind: KindRoot}
	if spec.Player != nil {
		n, err := parseEntity("player", root.Path+"/player", *spec.Player)
		if err != nil {
			return nil, err
		}
		root.Children = append(root.Children, n)
	}
	if spec.Camera != nil {
		n, err := parseEntity("camera", root.Path+"/camera", *spec.Camera)
		if err != nil {
			return nil, err
		}
		root.Children = append(root.Children, n)
	}
	for i, e := range spec.GlobalEntities {
		path := fmt.Sprintf("%s/global_entities/%d", root.Path, i)
		n, err := parseEntity(fmt.Sprintf("%d", i), path, e)
		if err != nil {
			return nil, err
		}
		root.Children = append(root.Children, n)
	}
	if len(root.Children) == 0 {
		return nil, &InvalidSpecError{Path: root.Path, Message: "no entities defined"}
	}
	return root, nil
}

func parseEntity(name, path string, entity models.EntityType) (*Node, error) {
	n := &Node{Name: name, Path: path, Kind: KindEntity}
	if entity.Position != nil {
		n.Children = append(n.Children, &Node{
			Name: "position", Path: path + "/position", Kind: KindPosition,
		})
	}
	if entity.Rotation != nil {
		n.Children = append(n.Children, &Node{
			Name: "rotation", Path: path + "/rotation", Kind: KindRotation,
		})
	}
	seen := make(map[string]bool)
	for _, f := range entity.Fields {
		if f.Name == "" {
			return nil, &InvalidSpecError{Path: path, Message: "entity field with empty name"}
		}
		if seen[f.Name] {
			return nil, &InvalidSpecError{Path: path + "/" + f.Name, Message: "duplicate field name"}
		}
		seen[f.Name] = true
		child, err := parseField(f, path+"/"+f.Name)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, child)
	}
	if len(n.Children) == 0 {
		return nil, &InvalidSpecError{Path: path, Message: "entity has no position, rotation or fields"}
	}
	return n, nil
}

func parseField(f models.EntityFieldType, path string) (*Node, error) {
	set := 0
	for _, ok := range []bool{f.Number != nil, f.Category != nil, f.Feeler != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return nil, &InvalidSpecError{Path: path, Message: "exactly one of number, category or feeler must be set"}
	}
	switch {
	case f.Number != nil:
		if err := checkNumberType(*f.Number, path); err != nil {
			return nil, err
		}
		return &Node{Name: f.Name, Path: path, Kind: KindNumber, Number: f.Number}, nil
	case f.Category != nil:
		if len(f.Category.EnumValues) == 0 {
			return nil, &InvalidSpecError{Path: path, Message: "category has no enum values"}
		}
		return &Node{Name: f.Name, Path: path, Kind: KindCategory, Category: f.Category}, nil
	default:
		if f.Feeler.Count <= 0 {
			return nil, &InvalidSpecError{Path: path, Message: fmt.Sprintf("feeler count must be positive, got %d", f.Feeler.Count)}
		}
		if err := checkNumberType(f.Feeler.Distance, path+"/distance"); err != nil {
			return nil, err
		}
		if len(f.Feeler.YawAngles) != 0 && len(f.Feeler.YawAngles) != f.Feeler.Count {
			return nil, &InvalidSpecError{Path: path, Message: fmt.Sprintf(
				"yaw_angles length %d does not match count %d", len(f.Feeler.YawAngles), f.Feeler.Count)}
		}
		for i, e := range f.Feeler.ExperimentalData {
			if err := checkNumberType(e, fmt.Sprintf("%s/experimental_data/%d", path, i)); err != nil {
				return nil, err
			}
		}
		return &Node{Name: f.Name, Path: path, Kind: KindFeeler, Feeler: f.Feeler}, nil
	}
}

func parseActionSpec(spec models.ActionSpec) (*Node, error) {
	root := &Node{Name: "action_spec", Path: "action_spec", Kind: KindRoot}
	if len(spec.Actions) == 0 {
		return nil, &InvalidSpecError{Path: root.Path, Message: "no actions defined"}
	}
	seen := make(map[string]bool)
	for _, a := range spec.Actions {
		if a.Name == "" {
			return nil, &InvalidSpecError{Path: root.Path + "/actions", Message: "action with empty name"}
		}
		path := root.Path + "/actions/" + a.Name
		if seen[a.Name] {
			return nil, &InvalidSpecError{Path: path, Message: "duplicate action name"}
		}
		seen[a.Name] = true
		child, err := parseAction(a, path)
		if err != nil {
			return nil, err
		}
		root.Children = append(root.Children, child)
	}
	return root, nil
}

func parseAction(a models.ActionType, path string) (*Node, error) {
	set := 0
	for _, ok := range []bool{a.Number != nil, a.Category != nil, a.Joystick != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return nil, &InvalidSpecError{Path: path, Message: "exactly one of number, category or joystick must be set"}
	}
	switch {
	case a.Number != nil:
		if err := checkNumberType(*a.Number, path); err != nil {
			return nil, err
		}
		return &Node{Name: a.Name, Path: path, Kind: KindNumber, Number: a.Number}, nil
	case a.Category != nil:
		if len(a.Category.EnumValues) == 0 {
			return nil, &InvalidSpecError{Path: path, Message: "category has no enum values"}
		}
		return &Node{Name: a.Name, Path: path, Kind: KindCategory, Category: a.Category}, nil
	default:
		switch a.Joystick.AxesMode {
		case models.AxesModeDeltaPitchYaw, models.AxesModeDirectionXZ:
		default:
			return nil, &InvalidSpecError{Path: path, Message: fmt.Sprintf("unknown axes_mode %q", a.Joystick.AxesMode)}
		}
		switch a.Joystick.ControlledEntity {
		case "", "player", "camera":
		default:
			return nil, &InvalidSpecError{Path: path, Message: fmt.Sprintf(
				"controlled_entity must be player or camera, got %q", a.Joystick.ControlledEntity)}
		}
		return &Node{Name: a.Name, Path: path, Kind: KindJoystick, Joystick: a.Joystick}, nil
	}
}

func checkNumberType(n models.NumberType, path string) error {
	if n.Minimum >= n.Maximum {
		return &InvalidSpecError{Path: path, Message: fmt.Sprintf(
			"minimum %g must be less than maximum %g", n.Minimum, n.Maximum)}
	}
	return nil
}
