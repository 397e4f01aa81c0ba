package specs

import (
	"fmt"
	"math"

	"github.com/arcadia-ml/mimic/pkg/models"
)

// quaternionTolerance bounds the allowed deviation of a rotation's norm
// from 1.
const quaternionTolerance = 1e-3

// Dtype enumerates tensor element types.
type Dtype int

const (
	Float32 Dtype = iota
	Int32
)

// Tensor is a dense row-major value produced from one data leaf.
type Tensor struct {
	Shape []int
	Data  []float32
}

// Len returns the element count implied by Shape.
func (t Tensor) Len() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// TensorSpec describes the tensor a leaf converts to, with bounds for
// bounded leaves.
type TensorSpec struct {
	Name    string
	Shape   []int
	Dtype   Dtype
	Bounded bool
	Minimum float64
	Maximum float64
}

// TensorSpec returns the tensor spec of a leaf node.
func (n *Node) TensorSpec() (TensorSpec, error) {
	switch n.Kind {
	case KindNumber:
		return TensorSpec{Name: n.Name, Shape: []int{1}, Dtype: Float32,
			Bounded: true, Minimum: n.Number.Minimum, Maximum: n.Number.Maximum}, nil
	case KindCategory:
		return TensorSpec{Name: n.Name, Shape: []int{1}, Dtype: Int32,
			Bounded: true, Minimum: 0, Maximum: float64(len(n.Category.EnumValues) - 1)}, nil
	case KindPosition:
		return TensorSpec{Name: n.Name, Shape: []int{3}, Dtype: Float32}, nil
	case KindRotation:
		return TensorSpec{Name: n.Name, Shape: []int{4}, Dtype: Float32}, nil
	case KindFeeler:
		return TensorSpec{Name: n.Name,
			Shape: []int{n.Feeler.Count, 1 + len(n.Feeler.ExperimentalData)}, Dtype: Float32,
			Bounded: true, Minimum: n.Feeler.Distance.Minimum, Maximum: n.Feeler.Distance.Maximum}, nil
	case KindJoystick:
		return TensorSpec{Name: n.Name, Shape: []int{2}, Dtype: Float32,
			Bounded: true, Minimum: -1, Maximum: 1}, nil
	}
	return TensorSpec{}, fmt.Errorf("node %s of kind %s has no tensor spec", n.Path, n.Kind)
}

// LeafTensor pairs a leaf node with the tensor produced from one data value.
type LeafTensor struct {
	Node   *Node
	Tensor Tensor
}

// Mapper converts a validated leaf value into a tensor. The default mapper
// is ToTensor; tests substitute recording mappers.
type Mapper func(node *Node, t Tensor) (Tensor, error)

// ToTensor is the identity mapper.
func ToTensor(_ *Node, t Tensor) (Tensor, error) { return t, nil }

// ObservationToNest validates an observation payload against the tree and
// returns one mapped tensor per leaf, in spec order.
func (tr *Tree) ObservationToNest(data *models.ObservationData, mapper Mapper) ([]LeafTensor, error) {
	if data == nil {
		return nil, &TypingError{Path: tr.Observation.Path, Message: "observation data missing"}
	}
	if mapper == nil {
		mapper = ToTensor
	}
	var out []LeafTensor
	entityIndex := 0
	for _, child := range tr.Observation.Children {
		var entity *models.EntityData
		switch child.Name {
		case "player":
			entity = data.Player
		case "camera":
			entity = data.Camera
		default:
			if entityIndex < len(data.GlobalEntities) {
				entity = &data.GlobalEntities[entityIndex]
			}
			entityIndex++
		}
		if entity == nil {
			return nil, &TypingError{Path: child.Path, Message: "entity data missing"}
		}
		nest, err := entityToNest(child, entity, mapper)
		if err != nil {
			return nil, err
		}
		out = append(out, nest...)
	}
	if entityIndex < len(data.GlobalEntities) {
		return nil, &TypingError{Path: tr.Observation.Path + "/global_entities",
			Message: fmt.Sprintf("got %d global entities, spec has %d", len(data.GlobalEntities), entityIndex)}
	}
	return out, nil
}

func entityToNest(node *Node, entity *models.EntityData, mapper Mapper) ([]LeafTensor, error) {
	var out []LeafTensor
	fieldIndex := 0
	for _, child := range node.Children {
		var raw Tensor
		var err error
		switch child.Kind {
		case KindPosition:
			if entity.Position == nil {
				return nil, &TypingError{Path: child.Path, Message: "position missing"}
			}
			p := entity.Position
			raw = Tensor{Shape: []int{3}, Data: []float32{float32(p.X), float32(p.Y), float32(p.Z)}}
		case KindRotation:
			if entity.Rotation == nil {
				return nil, &TypingError{Path: child.Path, Message: "rotation missing"}
			}
			raw, err = rotationTensor(child, entity.Rotation)
		default:
			if fieldIndex >= len(entity.Fields) {
				return nil, &TypingError{Path: child.Path, Message: "field value missing"}
			}
			raw, err = fieldTensor(child, entity.Fields[fieldIndex])
			fieldIndex++
		}
		if err != nil {
			return nil, err
		}
		mapped, err := mapper(child, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, LeafTensor{Node: child, Tensor: mapped})
	}
	if fieldIndex < len(entity.Fields) {
		return nil, &TypingError{Path: node.Path,
			Message: fmt.Sprintf("got %d fields, spec has %d", len(entity.Fields), fieldIndex)}
	}
	return out, nil
}

func rotationTensor(node *Node, r *models.Rotation) (Tensor, error) {
	norm := math.Sqrt(r.X*r.X + r.Y*r.Y + r.Z*r.Z + r.W*r.W)
	if math.Abs(norm-1) > quaternionTolerance {
		return Tensor{}, &TypingError{Path: node.Path,
			Message: fmt.Sprintf("quaternion norm %g is not 1 within %g", norm, quaternionTolerance)}
	}
	return Tensor{Shape: []int{4},
		Data: []float32{float32(r.X), float32(r.Y), float32(r.Z), float32(r.W)}}, nil
}

func fieldTensor(node *Node, value models.FieldValue) (Tensor, error) {
	switch node.Kind {
	case KindNumber:
		if value.Number == nil {
			return Tensor{}, &TypingError{Path: node.Path, Message: "expected a number value"}
		}
		return numberTensor(node, node.Number, value.Number.Value)
	case KindCategory:
		if value.Category == nil {
			return Tensor{}, &TypingError{Path: node.Path, Message: "expected a category value"}
		}
		return categoryTensor(node, value.Category.Value)
	case KindFeeler:
		if value.Feeler == nil {
			return Tensor{}, &TypingError{Path: node.Path, Message: "expected a feeler value"}
		}
		return feelerTensor(node, value.Feeler)
	}
	return Tensor{}, &TypingError{Path: node.Path, Message: fmt.Sprintf("unexpected field kind %s", node.Kind)}
}

func numberTensor(node *Node, spec *models.NumberType, v float64) (Tensor, error) {
	if v < spec.Minimum || v > spec.Maximum {
		return Tensor{}, &TypingError{Path: node.Path,
			Message: fmt.Sprintf("value %g outside [%g, %g]", v, spec.Minimum, spec.Maximum)}
	}
	return Tensor{Shape: []int{1}, Data: []float32{float32(v)}}, nil
}

func categoryTensor(node *Node, v int) (Tensor, error) {
	if v < 0 || v >= len(node.Category.EnumValues) {
		return Tensor{}, &TypingError{Path: node.Path,
			Message: fmt.Sprintf("category value %d outside [0, %d]", v, len(node.Category.EnumValues)-1)}
	}
	return Tensor{Shape: []int{1}, Data: []float32{float32(v)}}, nil
}

func feelerTensor(node *Node, f *models.FeelerValue) (Tensor, error) {
	spec := node.Feeler
	if len(f.Measurements) != spec.Count {
		return Tensor{}, &TypingError{Path: node.Path,
			Message: fmt.Sprintf("got %d measurements, spec has %d", len(f.Measurements), spec.Count)}
	}
	channels := 1 + len(spec.ExperimentalData)
	data := make([]float32, 0, spec.Count*channels)
	for i, m := range f.Measurements {
		d := m.Distance.Value
		if d < spec.Distance.Minimum || d > spec.Distance.Maximum {
			return Tensor{}, &TypingError{Path: fmt.Sprintf("%s/measurements/%d", node.Path, i),
				Message: fmt.Sprintf("distance %g outside [%g, %g]", d, spec.Distance.Minimum, spec.Distance.Maximum)}
		}
		if len(m.ExperimentalData) != len(spec.ExperimentalData) {
			return Tensor{}, &TypingError{Path: fmt.Sprintf("%s/measurements/%d", node.Path, i),
				Message: fmt.Sprintf("got %d experimental channels, spec has %d",
					len(m.ExperimentalData), len(spec.ExperimentalData))}
		}
		data = append(data, float32(d))
		for j, e := range m.ExperimentalData {
			b := spec.ExperimentalData[j]
			if e.Value < b.Minimum || e.Value > b.Maximum {
				return Tensor{}, &TypingError{
					Path:    fmt.Sprintf("%s/measurements/%d/experimental_data/%d", node.Path, i, j),
					Message: fmt.Sprintf("value %g outside [%g, %g]", e.Value, b.Minimum, b.Maximum)}
			}
			data = append(data, float32(e.Value))
		}
	}
	return Tensor{Shape: []int{spec.Count, channels}, Data: data}, nil
}

// ActionToNest validates an action payload against the tree and returns one
// mapped tensor per action, in spec order.
func (tr *Tree) ActionToNest(data *models.ActionData, mapper Mapper) ([]LeafTensor, error) {
	if data == nil {
		return nil, &TypingError{Path: tr.Action.Path, Message: "action data missing"}
	}
	if mapper == nil {
		mapper = ToTensor
	}
	if len(data.Actions) != len(tr.Action.Children) {
		return nil, &TypingError{Path: tr.Action.Path,
			Message: fmt.Sprintf("got %d actions, spec has %d", len(data.Actions), len(tr.Action.Children))}
	}
	var out []LeafTensor
	for i, child := range tr.Action.Children {
		raw, err := actionTensor(child, data.Actions[i])
		if err != nil {
			return nil, err
		}
		mapped, err := mapper(child, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, LeafTensor{Node: child, Tensor: mapped})
	}
	return out, nil
}

func actionTensor(node *Node, value models.ActionValue) (Tensor, error) {
	switch node.Kind {
	case KindNumber:
		if value.Number == nil {
			return Tensor{}, &TypingError{Path: node.Path, Message: "expected a number value"}
		}
		return numberTensor(node, node.Number, value.Number.Value)
	case KindCategory:
		if value.Category == nil {
			return Tensor{}, &TypingError{Path: node.Path, Message: "expected a category value"}
		}
		return categoryTensor(node, value.Category.Value)
	case KindJoystick:
		if value.Joystick == nil {
			return Tensor{}, &TypingError{Path: node.Path, Message: "expected a joystick value"}
		}
		j := value.Joystick
		if j.XAxis < -1 || j.XAxis > 1 {
			return Tensor{}, &TypingError{Path: node.Path,
				Message: fmt.Sprintf("x_axis %g outside [-1, 1]", j.XAxis)}
		}
		if j.YAxis < -1 || j.YAxis > 1 {
			return Tensor{}, &TypingError{Path: node.Path,
				Message: fmt.Sprintf("y_axis %g outside [-1, 1]", j.YAxis)}
		}
		return Tensor{Shape: []int{2}, Data: []float32{float32(j.XAxis), float32(j.YAxis)}}, nil
	}
	return Tensor{}, &TypingError{Path: node.Path, Message: fmt.Sprintf("unexpected action kind %s", node.Kind)}
}

// ValidateStep validates one step's observation and action without keeping
// the tensors.
func (tr *Tree) ValidateStep(step *models.Step) error {
	if _, err := tr.ObservationToNest(&step.Observation, nil); err != nil {
		return err
	}
	if _, err := tr.ActionToNest(&step.Action, nil); err != nil {
		return err
	}
	return nil
}
