package trainer

// earlyStopper halts training after patience epochs without a monitored
// loss improvement of at least minDelta, keeping the best weights seen.
type earlyStopper struct {
	patience int
	minDelta float64

	best        float64
	wait        int
	seen        bool
	bestWeights map[string][]float32
}

func newEarlyStopper(patience int, minDelta float64) *earlyStopper {
	if patience < 1 {
		patience = 1
	}
	return &earlyStopper{patience: patience, minDelta: minDelta}
}

// observe records one epoch's monitored loss. snapshot is invoked only
// on improvement. Returns true when training should stop.
func (e *earlyStopper) observe(loss float64, snapshot func() map[string][]float32) bool {
	if !e.seen || loss < e.best-e.minDelta {
		e.seen = true
		e.best = loss
		e.wait = 0
		e.bestWeights = snapshot()
		return false
	}
	e.wait++
	return e.wait >= e.patience
}

// plateauScheduler halves the learning rate after a window of epochs
// without improvement, with a cooldown between reductions and a floor.
type plateauScheduler struct {
	factor   float64
	patience int
	minLR    float64
	cooldown int

	best    float64
	wait    int
	cooling int
	seen    bool
}

func newPlateauScheduler(factor float64, patience int, minLR float64, cooldown int) *plateauScheduler {
	if patience < 1 {
		patience = 1
	}
	return &plateauScheduler{factor: factor, patience: patience, minLR: minLR, cooldown: cooldown}
}

// observe records one epoch's monitored loss and the current rate.
// Returns the new rate and whether it changed.
func (p *plateauScheduler) observe(loss, lr float64) (float64, bool) {
	if p.cooling > 0 {
		p.cooling--
		return lr, false
	}
	if !p.seen || loss < p.best {
		p.seen = true
		p.best = loss
		p.wait = 0
		return lr, false
	}
	p.wait++
	if p.wait < p.patience {
		return lr, false
	}

	p.wait = 0
	p.cooling = p.cooldown
	next := lr * p.factor
	if next < p.minLR {
		next = p.minLR
	}
	if next == lr {
		return lr, false
	}
	return next, true
}

// checkpointer persists a snapshot every time the monitored accuracy
// improves. A checkpointer with no path is inert.
type checkpointer struct {
	path string
	best float64
	seen bool
}

func newCheckpointer(path string) *checkpointer {
	return &checkpointer{path: path}
}

// observe records one epoch's accuracy, saving on improvement. Returns
// true when a checkpoint was written. best only advances on a successful
// save, so a failed write is retried at the next epoch with the same
// accuracy.
func (c *checkpointer) observe(accuracy float64, save func(string) error) bool {
	if c.path == "" {
		return false
	}
	if c.seen && accuracy <= c.best {
		return false
	}
	if save(c.path) != nil {
		return false
	}
	c.seen = true
	c.best = accuracy
	return true
}

// scheduledRate applies the epoch-keyed decay: gentle after epoch 30,
// steeper after epoch 60.
func scheduledRate(epoch int, lr float64) float64 {
	switch {
	case epoch > 60:
		return lr * 0.95
	case epoch > 30:
		return lr * 0.98
	default:
		return lr
	}
}
