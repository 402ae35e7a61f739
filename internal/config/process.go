package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/readout/internal/fsutil"
	"github.com/banshee-data/readout/internal/monitoring"
	"github.com/banshee-data/readout/internal/readout"
	"github.com/banshee-data/readout/internal/readout/pipeline"
)

// DefaultProcessConfigPath is where the CLI looks for the process settings.
const DefaultProcessConfigPath = "config/process.yaml"

// Keys derived on load. They live in the tree for path lookups but are never
// written back by Save.
var derivedKeys = []string{"n_readout_levels", "lowest_readout_levels", "highest_readout_levels"}

// ProcessConfig is the hierarchical process configuration: top-level
// switches and knobs plus one subtree per resonator (keys starting with
// "R"). Values are addressed by slash-separated paths such as
// "R3/IQ_means".
type ProcessConfig struct {
	fs         fsutil.FileSystem
	path       string
	tree       map[string]any
	resonators []string
	dirty      bool
}

// LoadProcessConfig loads a process configuration from a YAML file.
// The file is validated to have a .yaml or .yml extension and to be under
// the max file size.
func LoadProcessConfig(fsys fsutil.FileSystem, path string) (*ProcessConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .yaml extension, got %q", ext)
	}

	fileInfo, err := fsys.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := fsys.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	tree := map[string]any{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	c, err := NewProcessConfig(tree)
	if err != nil {
		return nil, err
	}
	c.fs = fsys
	c.path = cleanPath
	return c, nil
}

// NewProcessConfig builds a configuration from an already decoded tree. The
// tree is owned by the returned config. Channels whose matrices do not match
// their level count are regenerated and the config is marked dirty.
func NewProcessConfig(tree map[string]any) (*ProcessConfig, error) {
	if tree == nil {
		tree = map[string]any{}
	}
	c := &ProcessConfig{tree: tree}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *ProcessConfig) load() error {
	c.resonators = c.resonators[:0]
	for key, v := range c.tree {
		if _, ok := v.(map[string]any); ok && strings.HasPrefix(key, "R") {
			c.resonators = append(c.resonators, key)
		}
	}
	slices.Sort(c.resonators)

	for _, r := range c.resonators {
		raw, err := c.Get(r + "/readout_levels")
		if err != nil {
			return fmt.Errorf("resonator %s: %w", r, err)
		}
		levels, err := toInts(raw)
		if err != nil {
			return fmt.Errorf("resonator %s readout_levels: %w", r, err)
		}
		if len(levels) == 0 {
			return fmt.Errorf("resonator %s has no readout_levels", r)
		}
		slices.Sort(levels)
		if len(slices.Compact(slices.Clone(levels))) != len(levels) {
			return fmt.Errorf("resonator %s has duplicate readout_levels %v", r, levels)
		}
		sub := c.tree[r].(map[string]any)
		sub["readout_levels"] = anyInts(levels)
		sub["n_readout_levels"] = len(levels)
		sub["lowest_readout_levels"] = levels[0]
		sub["highest_readout_levels"] = levels[len(levels)-1]
	}

	for _, r := range c.resonators {
		if _, err := c.channel(r); err != nil {
			return err
		}
	}
	c.CheckIQMatrices()
	return c.Validate()
}

// Resonators returns the configured channel ids in sorted order.
func (c *ProcessConfig) Resonators() []string {
	return slices.Clone(c.resonators)
}

// Dirty reports whether the in-memory configuration differs from what was
// loaded, for example after CheckIQMatrices regenerated defaults.
func (c *ProcessConfig) Dirty() bool { return c.dirty }

// Get returns the value at a slash-separated path.
func (c *ProcessConfig) Get(path string) (any, error) {
	var node any = c.tree
	for _, part := range strings.Split(path, "/") {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("config path %q: %q is not a mapping", path, part)
		}
		if node, ok = m[part]; !ok {
			return nil, fmt.Errorf("config path %q not found", path)
		}
	}
	return node, nil
}

// Set stores v at a slash-separated path, creating intermediate mappings.
func (c *ProcessConfig) Set(path string, v any) error {
	parts := strings.Split(path, "/")
	node := c.tree
	for _, part := range parts[:len(parts)-1] {
		next, ok := node[part]
		if !ok {
			child := map[string]any{}
			node[part] = child
			node = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("config path %q: %q is not a mapping", path, part)
		}
		node = child
	}
	node[parts[len(parts)-1]] = v
	c.dirty = true
	return nil
}

// Save writes the configuration back to the file it was loaded from.
// Derived keys are omitted.
func (c *ProcessConfig) Save() error {
	if c.fs == nil || c.path == "" {
		return errors.New("config was not loaded from a file")
	}
	out := make(map[string]any, len(c.tree))
	for k, v := range c.tree {
		sub, ok := v.(map[string]any)
		if !ok || !slices.Contains(c.resonators, k) {
			out[k] = v
			continue
		}
		stripped := make(map[string]any, len(sub))
		for sk, sv := range sub {
			if !slices.Contains(derivedKeys, sk) {
				stripped[sk] = sv
			}
		}
		out[k] = stripped
	}
	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to encode config YAML: %w", err)
	}
	if err := c.fs.WriteFile(c.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	c.dirty = false
	return nil
}

// CheckIQMatrices verifies that every resonator's IQ_means, IQ_covariances
// and corr_matrix match its readout level count. A missing matrix counts as
// empty. Mismatched channels get regenerated defaults, a warning is logged
// and the config is marked dirty; call Save to persist. Channels whose
// values do not parse are left alone for Channel to report. The returned
// errors are the repaired mismatches.
func (c *ProcessConfig) CheckIQMatrices() []error {
	var repaired []error
	for _, r := range c.resonators {
		ch, err := c.channel(r)
		if err != nil {
			continue
		}
		var shapeErr *readout.ConfigurationShapeError
		if !errors.As(ch.Validate(), &shapeErr) {
			continue
		}
		monitoring.Warnf("config: %v; new matrices generated, call Save to persist them", shapeErr)

		means, covs, corr := readout.DefaultChannelMatrices(c.levelCount(r))
		sub := c.tree[r].(map[string]any)
		sub["IQ_means"] = anyPoints(means)
		sub["IQ_covariances"] = anyCovariances(covs)
		sub["corr_matrix"] = anyMatrix(corr)
		c.dirty = true
		repaired = append(repaired, shapeErr)
	}
	return repaired
}

func (c *ProcessConfig) levelCount(r string) int {
	v, _ := c.Get(r + "/n_readout_levels")
	n, _ := v.(int)
	return n
}

// Channel returns the typed calibration for a resonator.
func (c *ProcessConfig) Channel(id string) (readout.Channel, error) {
	if !slices.Contains(c.resonators, id) {
		return readout.Channel{}, fmt.Errorf("resonator %s is not configured", id)
	}
	return c.channel(id)
}

func (c *ProcessConfig) channel(id string) (readout.Channel, error) {
	ch := readout.Channel{ID: id}
	var err error

	if v, gerr := c.Get(id + "/IQ_rotation_angle"); gerr == nil {
		if ch.RotationAngle, err = toFloat(v); err != nil {
			return ch, fmt.Errorf("%s/IQ_rotation_angle: %w", id, err)
		}
	}
	v, err := c.Get(id + "/readout_levels")
	if err != nil {
		return ch, err
	}
	if ch.Levels, err = toInts(v); err != nil {
		return ch, fmt.Errorf("%s/readout_levels: %w", id, err)
	}
	sub, _ := c.tree[id].(map[string]any)
	if v, ok := sub["IQ_means"]; ok {
		if ch.Means, err = toPoints(v); err != nil {
			return ch, fmt.Errorf("%s/IQ_means: %w", id, err)
		}
	}
	if v, ok := sub["IQ_covariances"]; ok {
		if ch.Covariances, err = toCovariances(v); err != nil {
			return ch, fmt.Errorf("%s/IQ_covariances: %w", id, err)
		}
	}
	if v, ok := sub["corr_matrix"]; ok {
		if ch.CorrMatrix, err = toMatrix(v); err != nil {
			return ch, fmt.Errorf("%s/corr_matrix: %w", id, err)
		}
	}
	return ch, nil
}

// Validate checks the process-level knobs.
func (c *ProcessConfig) Validate() error {
	if v := c.GetAutorotateMaxIter(); v <= 0 {
		return fmt.Errorf("autorotate_max_iter must be positive, got %d", v)
	}
	if v := c.GetAutorotateTolerance(); v <= 0 {
		return fmt.Errorf("autorotate_tolerance must be positive, got %g", v)
	}
	if v := c.GetMaxCondition(); v < 1 {
		return fmt.Errorf("max_condition must be at least 1, got %g", v)
	}
	for _, r := range c.resonators {
		if v, err := c.Get(r + "/IQ_rotation_angle"); err == nil {
			if _, err := toFloat(v); err != nil {
				return fmt.Errorf("%s/IQ_rotation_angle: %w", r, err)
			}
		}
	}
	return nil
}

// RoutineFlags returns the routine selection switches.
func (c *ProcessConfig) RoutineFlags() pipeline.Flags {
	return pipeline.Flags{
		Customized:     c.getBool("customized"),
		Heralding:      c.getBool("heralding"),
		Classification: c.getBool("classification"),
	}
}

// MixtureOptions returns the auto-rotation fit options.
func (c *ProcessConfig) MixtureOptions() readout.MixtureOptions {
	opts := readout.DefaultMixtureOptions()
	opts.Seed = c.GetAutorotateSeed()
	opts.MaxIter = c.GetAutorotateMaxIter()
	opts.Tolerance = c.GetAutorotateTolerance()
	return opts
}

// CorrectionOptions returns the confusion-matrix solve options.
func (c *ProcessConfig) CorrectionOptions() readout.CorrectionOptions {
	return readout.CorrectionOptions{
		MaxCondition:       c.GetMaxCondition(),
		AllowPseudoInverse: c.GetAllowPseudoInverse(),
	}
}

// GetAutorotateSeed returns the autorotate_seed value or the default.
func (c *ProcessConfig) GetAutorotateSeed() uint64 {
	v, ok := c.tree["autorotate_seed"].(int)
	if !ok || v < 0 {
		return 1
	}
	return uint64(v)
}

// GetAutorotateMaxIter returns the autorotate_max_iter value or the default.
func (c *ProcessConfig) GetAutorotateMaxIter() int {
	v, ok := c.tree["autorotate_max_iter"].(int)
	if !ok {
		return 100
	}
	return v
}

// GetAutorotateTolerance returns the autorotate_tolerance value or the default.
func (c *ProcessConfig) GetAutorotateTolerance() float64 {
	v, err := toFloat(c.tree["autorotate_tolerance"])
	if err != nil {
		return 1e-6
	}
	return v
}

// GetMaxCondition returns the max_condition value or the default.
func (c *ProcessConfig) GetMaxCondition() float64 {
	v, err := toFloat(c.tree["max_condition"])
	if err != nil {
		return 1e12
	}
	return v
}

// GetAllowPseudoInverse returns the allow_pseudo_inverse value or the default.
func (c *ProcessConfig) GetAllowPseudoInverse() bool {
	return c.getBool("allow_pseudo_inverse")
}

func (c *ProcessConfig) getBool(key string) bool {
	v, _ := c.tree[key].(bool)
	return v
}

var _ pipeline.Settings = (*ProcessConfig)(nil)

// Conversions between YAML-decoded values and typed calibration data.

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case float64:
		return x, nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

func toList(v any) ([]any, error) {
	l, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	return l, nil
}

func toFloats(v any) ([]float64, error) {
	l, err := toList(v)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(l))
	for i, x := range l {
		if out[i], err = toFloat(x); err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
	}
	return out, nil
}

func toInts(v any) ([]int, error) {
	l, err := toList(v)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(l))
	for i, x := range l {
		n, ok := x.(int)
		if !ok {
			return nil, fmt.Errorf("index %d: expected an integer, got %T", i, x)
		}
		out[i] = n
	}
	return out, nil
}

func toPoints(v any) ([][2]float64, error) {
	l, err := toList(v)
	if err != nil {
		return nil, err
	}
	out := make([][2]float64, len(l))
	for i, x := range l {
		f, err := toFloats(x)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		if len(f) != 2 {
			return nil, fmt.Errorf("index %d: expected an [I, Q] pair, got %d values", i, len(f))
		}
		out[i] = [2]float64{f[0], f[1]}
	}
	return out, nil
}

// toCovariances accepts per-level scalars (isotropic variance) or 2×2
// matrices.
func toCovariances(v any) ([]readout.Covariance, error) {
	l, err := toList(v)
	if err != nil {
		return nil, err
	}
	out := make([]readout.Covariance, len(l))
	for i, x := range l {
		if s, err := toFloat(x); err == nil {
			out[i] = readout.IsotropicCovariance(s)
			continue
		}
		m, err := toMatrix(x)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		if r, c := m.Dims(); r != 2 || c != 2 {
			return nil, fmt.Errorf("index %d: expected a 2x2 matrix, got %dx%d", i, r, c)
		}
		if m.At(0, 1) != m.At(1, 0) {
			return nil, fmt.Errorf("index %d: covariance is not symmetric", i)
		}
		out[i] = readout.Covariance{II: m.At(0, 0), IQ: m.At(0, 1), QQ: m.At(1, 1)}
	}
	return out, nil
}

func toMatrix(v any) (*mat.Dense, error) {
	l, err := toList(v)
	if err != nil {
		return nil, err
	}
	if len(l) == 0 {
		return nil, errors.New("matrix is empty")
	}
	var data []float64
	cols := -1
	for i, row := range l {
		f, err := toFloats(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if cols >= 0 && len(f) != cols {
			return nil, fmt.Errorf("row %d has %d columns, want %d", i, len(f), cols)
		}
		if len(f) == 0 {
			return nil, fmt.Errorf("row %d is empty", i)
		}
		cols = len(f)
		data = append(data, f...)
	}
	return mat.NewDense(len(l), cols, data), nil
}

func anyInts(v []int) []any {
	out := make([]any, len(v))
	for i, x := range v {
		out[i] = x
	}
	return out
}

func anyPoints(v [][2]float64) []any {
	out := make([]any, len(v))
	for i, p := range v {
		out[i] = []any{p[0], p[1]}
	}
	return out
}

func anyCovariances(v []readout.Covariance) []any {
	out := make([]any, len(v))
	for i, c := range v {
		if c.IQ == 0 && c.II == c.QQ {
			out[i] = c.II
			continue
		}
		out[i] = []any{[]any{c.II, c.IQ}, []any{c.IQ, c.QQ}}
	}
	return out
}

func anyMatrix(m *mat.Dense) []any {
	r, c := m.Dims()
	out := make([]any, r)
	for i := 0; i < r; i++ {
		row := make([]any, c)
		for j := 0; j < c; j++ {
			row[j] = m.At(i, j)
		}
		out[i] = row
	}
	return out
}
