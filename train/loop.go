// Package train fits a model.Model with Adam under a warm-up + cosine
// learning-rate schedule, keeping the checkpoint with the lowest validation loss.
package train

import (
	"math"
	"math/rand/v2"
	"os"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"tinylm/data"
	"tinylm/model"
)

var (
	ErrInvalidConfig    = errors.New("invalid training configuration")
	ErrInvalidSchedule  = errors.New("invalid learning-rate schedule")
	ErrNoCompletedEpoch = errors.New("no epoch completed")
	ErrNonFiniteLoss    = errors.New("non-finite loss")
	ErrEmptyDataset     = errors.New("dataset has no batches")
)

// Config holds the training hyper-parameters.
type Config struct {
	Epochs       int
	LearningRate float64
	// WarmupEpochs may be fractional; zero disables warm-up.
	WarmupEpochs float64
	// ClipGrads is the maximum total gradient norm; zero disables clipping.
	ClipGrads float64
	// Seed drives the dropout masks.
	Seed uint64

	Adam      AdamConfig
	EarlyStop EarlyStopper
	Reporter  Reporter
}

func DefaultConfig() Config {
	return Config{
		Epochs:       10,
		LearningRate: 0.001,
		WarmupEpochs: 0.5,
		Seed:         42,
		Adam:         DefaultAdamConfig(),
		EarlyStop:    Patience{Epochs: 3},
	}
}

func (c Config) Validate() error {
	switch {
	case c.Epochs < 0:
		return errors.Wrapf(ErrInvalidConfig, "%d epochs", c.Epochs)
	case c.LearningRate < 0:
		return errors.Wrapf(ErrInvalidConfig, "learning rate %g", c.LearningRate)
	case c.WarmupEpochs < 0:
		return errors.Wrapf(ErrInvalidConfig, "warm-up %g epochs", c.WarmupEpochs)
	case c.ClipGrads < 0:
		return errors.Wrapf(ErrInvalidConfig, "gradient clip %g", c.ClipGrads)
	case c.Adam.Beta1 < 0 || c.Adam.Beta1 >= 1 || c.Adam.Beta2 < 0 || c.Adam.Beta2 >= 1:
		return errors.Wrapf(ErrInvalidConfig, "adam betas %g, %g", c.Adam.Beta1, c.Adam.Beta2)
	}
	return nil
}

// History is the per-epoch loss record of a run; index i holds epoch i+1.
type History struct {
	Train []float64
	Val   []float64
	Best  Checkpoint
	// Stopped is set when the early-stopping policy ended the run.
	Stopped bool
}

type trainer struct {
	m        *model.Model
	cfg      Config
	schedule WarmupCosine
	adam     *Adam
	dropout  rand.Source
	rep      Reporter
	step     int
}

// Train runs cfg.Epochs epochs over trainData, validating on valData after
// each one. On success the model holds the parameters of the best epoch.
func Train(m *model.Model, trainData, valData data.Dataset, cfg Config) (*History, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if trainData.NumBatches() == 0 {
		return nil, errors.Wrap(ErrEmptyDataset, "training data")
	}
	if valData.NumBatches() == 0 {
		return nil, errors.Wrap(ErrEmptyDataset, "validation data")
	}
	hist := &History{}
	if cfg.Epochs == 0 {
		return hist, ErrNoCompletedEpoch
	}
	schedule, err := NewWarmupCosine(cfg.WarmupEpochs, cfg.Epochs, trainData.NumBatches())
	if err != nil {
		return nil, err
	}
	if cfg.Reporter == nil {
		cfg.Reporter = NewProgressReporter(os.Stderr)
	}
	if cfg.EarlyStop == nil {
		cfg.EarlyStop = Never{}
	}
	tr := &trainer{
		m:        m,
		cfg:      cfg,
		schedule: schedule,
		adam:     NewAdam(cfg.Adam),
		dropout:  rand.NewPCG(cfg.Seed, cfg.Seed),
		rep:      cfg.Reporter,
	}

	var best BestTracker
	tr.rep.Start(cfg.Epochs, trainData.NumBatches(), schedule)
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		trainLoss, err := tr.trainEpoch(epoch, trainData)
		if err != nil {
			return hist, err
		}
		valLoss, err := tr.validate(valData)
		if err != nil {
			return hist, errors.WithMessagef(err, "epoch %d validation", epoch)
		}
		hist.Train = append(hist.Train, trainLoss)
		hist.Val = append(hist.Val, valLoss)

		improved := best.Consider(epoch, valLoss, m.Snapshot)
		tr.rep.EndEpoch(epoch, trainLoss, valLoss, improved)

		if cfg.EarlyStop.ShouldStop(hist.Val) {
			klog.Infof("early stopping after epoch %d", epoch)
			hist.Stopped = true
			break
		}
	}

	ckpt, ok := best.Best()
	if !ok {
		return hist, ErrNoCompletedEpoch
	}
	if err := m.Restore(ckpt.Params); err != nil {
		return hist, errors.WithMessage(err, "restoring best checkpoint")
	}
	hist.Best = ckpt
	tr.rep.Finish(ckpt)
	return hist, nil
}

// trainEpoch returns the mean training loss over the batches of one epoch.
func (tr *trainer) trainEpoch(epoch int, ds data.Dataset) (float64, error) {
	var sum float64
	n := ds.NumBatches()
	for i := 0; i < n; i++ {
		b := ds.Batch(i)
		lr := tr.cfg.LearningRate * tr.schedule.Factor(tr.step)
		loss, err := tr.trainStep(b, lr)
		if err != nil {
			return 0, errors.WithMessagef(err, "epoch %d batch %d", epoch, i)
		}
		sum += loss
		tr.rep.Batch(epoch, i, sum/float64(i+1), lr)
	}
	return sum / float64(n), nil
}

func (tr *trainer) trainStep(b data.Batch, lr float64) (float64, error) {
	loss, grads, err := tr.m.LossAndGrads(b.Inputs, b.Targets, tr.dropout)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return 0, errors.Wrapf(ErrNonFiniteLoss, "loss %g", loss)
	}
	if tr.cfg.ClipGrads > 0 {
		norm := ClipGradNorm(grads, tr.cfg.ClipGrads)
		klog.V(3).Infof("step %d: gradient norm %.4f", tr.step, norm)
	}
	if err := tr.adam.Step(tr.m.Params(), grads, lr); err != nil {
		return 0, err
	}
	tr.step++
	return loss, nil
}

// validate returns the mean evaluation-mode loss over every batch of ds.
func (tr *trainer) validate(ds data.Dataset) (float64, error) {
	var sum float64
	n := ds.NumBatches()
	for i := 0; i < n; i++ {
		b := ds.Batch(i)
		loss, err := tr.m.Loss(b.Inputs, b.Targets)
		if err != nil {
			return 0, errors.WithMessagef(err, "batch %d", i)
		}
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return 0, errors.Wrapf(ErrNonFiniteLoss, "batch %d loss %g", i, loss)
		}
		sum += loss
	}
	return sum / float64(n), nil
}
