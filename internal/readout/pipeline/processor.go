package pipeline

import (
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/readout/internal/monitoring"
	"github.com/banshee-data/readout/internal/readout"
)

// ErrNoCustomRoutine is returned when the customized routine is selected but
// no extension was registered.
var ErrNoCustomRoutine = errors.New("customized routine selected but no custom routine registered")

// Settings is the read-only configuration a Processor needs. Values must not
// change while a batch is being processed.
type Settings interface {
	RoutineFlags() Flags
	Channel(id string) (readout.Channel, error)
	MixtureOptions() readout.MixtureOptions
	CorrectionOptions() readout.CorrectionOptions
}

// CustomRoutine is the extension point for the customized routine.
type CustomRoutine interface {
	ProcessBatch(batch Batch, settings Settings) (map[string]*ChannelResult, error)
}

// CustomRoutineFunc adapts a function to CustomRoutine.
type CustomRoutineFunc func(batch Batch, settings Settings) (map[string]*ChannelResult, error)

// ProcessBatch calls f.
func (f CustomRoutineFunc) ProcessBatch(batch Batch, settings Settings) (map[string]*ChannelResult, error) {
	return f(batch, settings)
}

// ChannelResult collects every stage record produced for one channel. Fields
// a routine does not produce stay nil.
type ChannelResult struct {
	Channel      string
	Rotated      *readout.Rotated
	Classified   *readout.Classified
	Normalized   *readout.Normalized
	Corrected    *readout.Corrected
	AutoRotation *readout.AutoRotation
	// ToFit is levels × sweep points, or 2 × sweep points (mean I, mean Q)
	// for the bare routine.
	ToFit *mat.Dense
}

// Result is a fully processed batch.
type Result struct {
	ID       string
	Routine  Routine
	Mask     *readout.HeraldMask
	Channels map[string]*ChannelResult
}

// ChannelIDs returns the result's channel ids in sorted order.
func (r *Result) ChannelIDs() []string {
	ids := make([]string, 0, len(r.Channels))
	for id := range r.Channels {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Processor runs measurement batches through the configured routine.
type Processor struct {
	settings Settings
	custom   CustomRoutine
	newID    func() string
}

// Option configures a Processor.
type Option func(*Processor)

// WithCustomRoutine registers the customized routine handler.
func WithCustomRoutine(c CustomRoutine) Option {
	return func(p *Processor) { p.custom = c }
}

// WithIDGenerator overrides the batch id source.
func WithIDGenerator(f func() string) Option {
	return func(p *Processor) { p.newID = f }
}

// NewProcessor creates a Processor over settings.
func NewProcessor(settings Settings, opts ...Option) *Processor {
	p := &Processor{
		settings: settings,
		newID:    func() string { return uuid.New().String() },
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Process runs batch through the routine selected by the settings. Any
// error aborts the whole batch and no result is returned.
func (p *Processor) Process(batch Batch) (*Result, error) {
	routine := SelectRoutine(p.settings.RoutineFlags())
	res := &Result{ID: p.newID(), Routine: routine}

	var err error
	switch routine {
	case RoutineCustomized:
		res.Channels, err = p.processCustomized(batch)
	case RoutineHeralding:
		res.Channels, res.Mask, err = p.processHeralding(batch)
	case RoutineClassification:
		res.Channels, err = p.processClassification(batch)
	case RoutineBare:
		res.Channels, err = p.processBare(batch)
	default:
		err = fmt.Errorf("unhandled routine %s", routine)
	}
	if err != nil {
		return nil, fmt.Errorf("%s routine: %w", routine, err)
	}

	monitoring.Logf("readout: batch %s processed with %s routine (%d channels)", res.ID, routine, len(res.Channels))
	return res, nil
}

func (p *Processor) processCustomized(batch Batch) (map[string]*ChannelResult, error) {
	if p.custom == nil {
		return nil, ErrNoCustomRoutine
	}
	return p.custom.ProcessBatch(batch, p.settings)
}

func (p *Processor) processHeralding(batch Batch) (map[string]*ChannelResult, *readout.HeraldMask, error) {
	ids := batch.ChannelIDs()
	channels := make(map[string]readout.Channel, len(ids))
	classified := make(map[string]readout.Classified, len(ids))
	heralds := make(map[string]*readout.Labels, len(ids))
	out := make(map[string]*ChannelResult, len(ids))

	for _, id := range ids {
		m := batch[id]
		if m.Heralding == nil {
			return nil, nil, &readout.ChannelMismatchError{Reason: fmt.Sprintf("channel %s has no heralding trace", id)}
		}
		ch, err := p.channel(id, m)
		if err != nil {
			return nil, nil, err
		}
		rot := readout.RotateStage(ch, m.Readout, m.Heralding)
		cls, err := readout.ClassifyStage(ch, rot)
		if err != nil {
			return nil, nil, err
		}
		channels[id] = ch
		classified[id] = cls
		heralds[id] = cls.Heralding
		out[id] = &ChannelResult{Channel: id, Rotated: &rot, Classified: &cls}
	}

	mask, err := readout.BuildHeraldMask(heralds)
	if err != nil {
		return nil, nil, err
	}
	monitoring.Logf("readout: heralding kept %d of %d repetitions per sweep point", mask.NPass, mask.Reps)

	for _, id := range ids {
		norm, corr, err := p.normalizeAndCorrect(channels[id], classified[id], mask)
		if err != nil {
			return nil, nil, err
		}
		out[id].Normalized = &norm
		out[id].Corrected = &corr
		out[id].ToFit = corr.Population
	}
	return out, mask, nil
}

func (p *Processor) processClassification(batch Batch) (map[string]*ChannelResult, error) {
	out := make(map[string]*ChannelResult, len(batch))
	for _, id := range batch.ChannelIDs() {
		m := batch[id]
		ch, err := p.channel(id, m)
		if err != nil {
			return nil, err
		}
		rot := readout.RotateStage(ch, m.Readout, nil)
		cls, err := readout.ClassifyStage(ch, rot)
		if err != nil {
			return nil, err
		}
		norm, corr, err := p.normalizeAndCorrect(ch, cls, nil)
		if err != nil {
			return nil, err
		}
		out[id] = &ChannelResult{
			Channel:    id,
			Rotated:    &rot,
			Classified: &cls,
			Normalized: &norm,
			Corrected:  &corr,
			ToFit:      corr.Population,
		}
	}
	return out, nil
}

func (p *Processor) processBare(batch Batch) (map[string]*ChannelResult, error) {
	opts := p.settings.MixtureOptions()
	out := make(map[string]*ChannelResult, len(batch))
	for _, id := range batch.ChannelIDs() {
		m := batch[id]
		ch, err := p.channel(id, m)
		if err != nil {
			return nil, err
		}
		if n := ch.NLevels(); n > 2 {
			monitoring.Warnf("readout: bare routine fits %d clusters on channel %s but to_fit keeps only the mean I and Q", n, id)
		}
		rot := readout.RotateStage(ch, m.Readout, nil)
		auto, err := readout.AutoRotate(rot.Readout, ch.NLevels(), opts)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", id, err)
		}
		i, q := readout.MeanIQ(auto.Rotated)
		out[id] = &ChannelResult{
			Channel:      id,
			Rotated:      &rot,
			AutoRotation: auto,
			ToFit:        mat.NewDense(2, len(i), append(i, q...)),
		}
	}
	return out, nil
}

func (p *Processor) normalizeAndCorrect(ch readout.Channel, cls readout.Classified, mask *readout.HeraldMask) (readout.Normalized, readout.Corrected, error) {
	norm, err := readout.NormalizeStage(ch, cls, mask)
	if err != nil {
		return readout.Normalized{}, readout.Corrected{}, err
	}
	corr, err := readout.CorrectStage(ch, norm, p.settings.CorrectionOptions())
	if err != nil {
		return readout.Normalized{}, readout.Corrected{}, err
	}
	return norm, corr, nil
}

// channel fetches and validates the calibration for id and checks the
// measurement carries a readout trace.
func (p *Processor) channel(id string, m Measurement) (readout.Channel, error) {
	if m.Readout == nil {
		return readout.Channel{}, &readout.ChannelMismatchError{Reason: fmt.Sprintf("channel %s has no readout trace", id)}
	}
	ch, err := p.settings.Channel(id)
	if err != nil {
		return readout.Channel{}, fmt.Errorf("channel %s: %w", id, err)
	}
	if err := ch.Validate(); err != nil {
		return readout.Channel{}, err
	}
	return ch, nil
}
