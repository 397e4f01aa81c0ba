package learner

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/arcadia-ml/mimic/pkg/models"
	"github.com/arcadia-ml/mimic/pkg/specs"
)

// File names of the reference trainer's bundles.
const (
	checkpointFile = "checkpoint.json"
	modelFile      = "model.json"
	weightsFile    = "weights.json"
	inferenceFile  = "inference.json"
)

const defaultLearningRate = 1e-2

// linearTrainer is the reference Trainer: one linear head per action leaf
// over the flattened observation vector, trained by SGD least squares.
// It exists so the service is runnable end to end without an external
// learning stack; any heavier policy plugs in behind the same interface.
type linearTrainer struct {
	spec    models.BrainSpec
	tree    *specs.Tree
	hparams models.Hyperparameters

	checkpointPath string
	summaryPath    string

	obsDim int
	heads  []*head

	replay    *ReplayBuffer
	evalStore *EvalDatastore
	rng       *rand.Rand

	examples       int64
	lastDemoMicros int64
}

type head struct {
	name     string
	kind     specs.Kind
	outDim   int
	nClasses int
	weights  *mat.Dense // outDim x (obsDim + 1), last column is the bias
}

// NewLinearTrainer is the TrainerFactory for the reference trainer. When a
// checkpoint exists at checkpointPath it is loaded; compileGraph only
// controls whether demonstration buffers are allocated.
func NewLinearTrainer(spec models.BrainSpec, hparams models.Hyperparameters,
	checkpointPath, summaryPath string, compileGraph bool) (Trainer, error) {
	tree, err := specs.FromSpec(spec)
	if err != nil {
		return nil, err
	}
	if err := hparams.Validate(); err != nil {
		return nil, err
	}
	t := &linearTrainer{
		spec:           spec,
		tree:           tree,
		hparams:        hparams,
		checkpointPath: checkpointPath,
		summaryPath:    summaryPath,
		evalStore:      NewEvalDatastore(),
		rng:            newSeededRNG(spec, hparams),
	}
	if compileGraph {
		t.replay = NewReplayBuffer(hparams.ReplayBufferCapacity)
	}
	for _, leaf := range tree.Observation.Leaves() {
		ts, err := leaf.TensorSpec()
		if err != nil {
			return nil, err
		}
		t.obsDim += tensorLen(ts.Shape)
	}
	for _, leaf := range tree.Action.Leaves() {
		h := &head{name: leaf.Name, kind: leaf.Kind}
		switch leaf.Kind {
		case specs.KindCategory:
			h.nClasses = len(leaf.Category.EnumValues)
			h.outDim = h.nClasses
		default:
			ts, err := leaf.TensorSpec()
			if err != nil {
				return nil, err
			}
			h.outDim = tensorLen(ts.Shape)
		}
		h.weights = mat.NewDense(h.outDim, t.obsDim+1, nil)
		t.heads = append(t.heads, h)
	}
	if err := t.loadCheckpoint(); err != nil {
		return nil, err
	}
	return t, nil
}

func tensorLen(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// newSeededRNG derives a deterministic generator from the spec and
// hyperparameters so cached trainers reinitialize reproducibly.
func newSeededRNG(spec models.BrainSpec, hparams models.Hyperparameters) *rand.Rand {
	h := fnv.New64a()
	raw, _ := json.Marshal(spec)
	h.Write(raw)
	h.Write([]byte(hparams.CanonicalID()))
	seed := h.Sum64()
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func (t *linearTrainer) Hyperparameters() models.Hyperparameters { return t.hparams }
func (t *linearTrainer) EvalDatastore() *EvalDatastore           { return t.evalStore }

func (t *linearTrainer) SetPaths(checkpointPath, summaryPath string) {
	t.checkpointPath = checkpointPath
	t.summaryPath = summaryPath
}

func (t *linearTrainer) ReinitializeAgent() error {
	for _, h := range t.heads {
		for i := 0; i < h.outDim; i++ {
			for j := 0; j <= t.obsDim; j++ {
				h.weights.Set(i, j, (t.rng.Float64()-0.5)*1e-2)
			}
		}
	}
	t.examples = 0
	return nil
}

func (t *linearTrainer) ClearStepBuffers() {
	if t.replay != nil {
		t.replay.Clear()
	}
	t.evalStore.Clear()
}

// evalSplit deterministically routes ~EvalFraction of chunks into the eval
// set, keyed on (episode id, chunk id) so the split is stable across
// processes and replays.
func (t *linearTrainer) evalSplit(episodeID string, chunkID int) bool {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s/%d", episodeID, chunkID)
	return float64(h.Sum64()%1000) < t.hparams.EvalFraction*1000
}

func (t *linearTrainer) AddDemonstration(chunk *models.EpisodeChunk) error {
	frames := make([]Frame, 0, len(chunk.Steps))
	for i := range chunk.Steps {
		step := &chunk.Steps[i]
		obs, err := t.tree.ObservationToNest(&step.Observation, nil)
		if err != nil {
			return fmt.Errorf("chunk %d step %d: %w", chunk.ChunkID, i, err)
		}
		act, err := t.tree.ActionToNest(&step.Action, nil)
		if err != nil {
			return fmt.Errorf("chunk %d step %d: %w", chunk.ChunkID, i, err)
		}
		frame := Frame{TimeMicros: chunk.CreatedMicros}
		for _, lt := range obs {
			frame.Observations = append(frame.Observations, lt.Tensor)
		}
		for _, lt := range act {
			frame.Actions = append(frame.Actions, lt.Tensor)
		}
		frames = append(frames, frame)
	}
	if len(frames) == 0 {
		return nil
	}
	if chunk.CreatedMicros > t.lastDemoMicros {
		t.lastDemoMicros = chunk.CreatedMicros
	}
	if t.evalSplit(chunk.EpisodeID, chunk.ChunkID) {
		return t.evalStore.AddTrajectory(frames)
	}
	if t.replay == nil {
		return errors.New("trainer was created without a demonstration buffer")
	}
	t.replay.Add(frames)
	return nil
}

// features flattens a frame's observation tensors and appends the bias
// input.
func (t *linearTrainer) features(f Frame) *mat.VecDense {
	x := make([]float64, 0, t.obsDim+1)
	for _, tensor := range f.Observations {
		for _, v := range tensor.Data {
			x = append(x, float64(v))
		}
	}
	x = append(x, 1)
	return mat.NewVecDense(len(x), x)
}

// target returns the regression target of one head for one frame.
func (h *head) target(f Frame, headIndex int) []float64 {
	tensor := f.Actions[headIndex]
	out := make([]float64, h.outDim)
	if h.kind == specs.KindCategory {
		class := int(tensor.Data[0])
		if class >= 0 && class < h.nClasses {
			out[class] = 1
		}
		return out
	}
	for i, v := range tensor.Data {
		out[i] = float64(v)
	}
	return out
}

func (t *linearTrainer) TrainStep() (int64, int64, error) {
	if t.replay == nil {
		return 0, 0, errors.New("trainer was created without a demonstration buffer")
	}
	batch, err := t.replay.Sample(t.hparams.BatchSize, t.rng)
	if err != nil {
		return t.examples, t.lastDemoMicros, err
	}
	lr := defaultLearningRate / float64(len(batch))
	for _, f := range batch {
		x := t.features(f)
		for hi, h := range t.heads {
			pred := mat.NewVecDense(h.outDim, nil)
			pred.MulVec(h.weights, x)
			target := h.target(f, hi)
			residual := mat.NewVecDense(h.outDim, nil)
			for i := 0; i < h.outDim; i++ {
				residual.SetVec(i, target[i]-pred.AtVec(i))
			}
			h.weights.RankOne(h.weights, lr, residual, x)
		}
	}
	t.examples += int64(len(batch))
	return t.examples, t.lastDemoMicros, nil
}

// EvaluateOffline returns the mean squared error of the current policy on
// the batch; lower is better.
func (t *linearTrainer) EvaluateOffline(batch []Frame) (float64, error) {
	if len(batch) == 0 {
		return 0, errors.New("eval batch is empty")
	}
	var total float64
	var count int
	for _, f := range batch {
		x := t.features(f)
		for hi, h := range t.heads {
			pred := mat.NewVecDense(h.outDim, nil)
			pred.MulVec(h.weights, x)
			target := h.target(f, hi)
			for i := 0; i < h.outDim; i++ {
				d := target[i] - pred.AtVec(i)
				total += d * d
				count++
			}
		}
	}
	return total / float64(count), nil
}

// checkpointState is the serialized trainable state.
type checkpointState struct {
	Examples       int64                  `json:"examples"`
	LastDemoMicros int64                  `json:"last_demo_micros"`
	ObsDim         int                    `json:"obs_dim"`
	Weights        map[string][][]float64 `json:"weights"`
}

func (t *linearTrainer) state() checkpointState {
	s := checkpointState{
		Examples:       t.examples,
		LastDemoMicros: t.lastDemoMicros,
		ObsDim:         t.obsDim,
		Weights:        make(map[string][][]float64, len(t.heads)),
	}
	for _, h := range t.heads {
		rows := make([][]float64, h.outDim)
		for i := 0; i < h.outDim; i++ {
			rows[i] = append([]float64(nil), h.weights.RawRowView(i)...)
		}
		s.Weights[h.name] = rows
	}
	return s
}

func (t *linearTrainer) restore(s checkpointState) error {
	if s.ObsDim != t.obsDim {
		return fmt.Errorf("checkpoint observation dim %d does not match spec dim %d",
			s.ObsDim, t.obsDim)
	}
	for _, h := range t.heads {
		rows, ok := s.Weights[h.name]
		if !ok {
			return fmt.Errorf("checkpoint is missing weights for action %q", h.name)
		}
		if len(rows) != h.outDim {
			return fmt.Errorf("checkpoint weights for %q have %d rows, expected %d",
				h.name, len(rows), h.outDim)
		}
		for i, row := range rows {
			if len(row) != t.obsDim+1 {
				return fmt.Errorf("checkpoint weights for %q row %d has %d columns, expected %d",
					h.name, i, len(row), t.obsDim+1)
			}
			h.weights.SetRow(i, row)
		}
	}
	t.examples = s.Examples
	t.lastDemoMicros = s.LastDemoMicros
	return nil
}

func (t *linearTrainer) loadCheckpoint() error {
	if t.checkpointPath == "" {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(t.checkpointPath, checkpointFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading checkpoint: %w", err)
	}
	var s checkpointState
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parsing checkpoint: %w", err)
	}
	return t.restore(s)
}

func (t *linearTrainer) SaveCheckpoint(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(t.state(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, checkpointFile), data, 0o644)
}

// savedModel is the exported bundle manifest. Tensor names are the spec
// leaf names and survive conversion unchanged.
type savedModel struct {
	Format  string             `json:"format"`
	Inputs  []savedTensorSpec  `json:"inputs"`
	Outputs []savedTensorSpec  `json:"outputs"`
	Hparams models.Hyperparameters `json:"hyperparameters"`
}

type savedTensorSpec struct {
	Name    string  `json:"name"`
	Shape   []int   `json:"shape"`
	Dtype   string  `json:"dtype"`
	Minimum float64 `json:"minimum,omitempty"`
	Maximum float64 `json:"maximum,omitempty"`
}

func dtypeName(d specs.Dtype) string {
	if d == specs.Int32 {
		return "int32"
	}
	return "float32"
}

func (t *linearTrainer) manifest(format string) (savedModel, error) {
	m := savedModel{Format: format, Hparams: t.hparams}
	for _, leaf := range t.tree.Observation.Leaves() {
		ts, err := leaf.TensorSpec()
		if err != nil {
			return savedModel{}, err
		}
		m.Inputs = append(m.Inputs, savedTensorSpec{
			Name: ts.Name, Shape: ts.Shape, Dtype: dtypeName(ts.Dtype),
			Minimum: ts.Minimum, Maximum: ts.Maximum,
		})
	}
	for _, h := range t.heads {
		m.Outputs = append(m.Outputs, savedTensorSpec{
			Name: h.name, Shape: []int{h.outDim}, Dtype: "float32",
		})
	}
	return m, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ExportSavedModel writes the standard bundle: a manifest and the weights.
func (t *linearTrainer) ExportSavedModel(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	m, err := t.manifest("saved_model.v1")
	if err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(path, modelFile), m); err != nil {
		return err
	}
	return writeJSON(filepath.Join(path, weightsFile), t.state().Weights)
}

// ConvertForInference folds a saved bundle into the single-file mobile
// format. Top-level tensor names are preserved.
func (t *linearTrainer) ConvertForInference(inPath, outPath string) error {
	var m savedModel
	data, err := os.ReadFile(filepath.Join(inPath, modelFile))
	if err != nil {
		return fmt.Errorf("reading saved model: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parsing saved model: %w", err)
	}
	var weights map[string][][]float64
	data, err = os.ReadFile(filepath.Join(inPath, weightsFile))
	if err != nil {
		return fmt.Errorf("reading weights: %w", err)
	}
	if err := json.Unmarshal(data, &weights); err != nil {
		return fmt.Errorf("parsing weights: %w", err)
	}
	if err := os.MkdirAll(outPath, 0o755); err != nil {
		return err
	}
	bundle := struct {
		Format  string                 `json:"format"`
		Inputs  []savedTensorSpec      `json:"inputs"`
		Outputs []savedTensorSpec      `json:"outputs"`
		Weights map[string][][]float64 `json:"weights"`
	}{
		Format:  "inference.v1",
		Inputs:  m.Inputs,
		Outputs: m.Outputs,
		Weights: weights,
	}
	return writeJSON(filepath.Join(outPath, inferenceFile), bundle)
}
