package report

import (
	"github.com/sirupsen/logrus"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/docsight-ai/go-idclass/faults"
)

// CurvePoint is one epoch of training history as seen by a chart sink.
type CurvePoint struct {
	Epoch       int
	Loss        float64
	Accuracy    float64
	ValLoss     float64
	ValAccuracy float64
}

// ChartSink receives training curves after each stage. Implementations
// must tolerate repeated calls with a growing point list.
type ChartSink interface {
	WriteCurves(points []CurvePoint) error
}

// PlotSink renders training curves to a PNG file.
type PlotSink struct {
	// Path is the output PNG location.
	Path string
}

// WriteCurves draws loss and accuracy lines, validation included when
// present, and writes the PNG.
//
// Arguments:
//   - points: Per-epoch history, oldest first.
//
// Returns:
//   - error: A config fault when the plot cannot be rendered or saved.
func (s *PlotSink) WriteCurves(points []CurvePoint) error {
	if len(points) == 0 {
		return nil
	}

	p := plot.New()
	p.Title.Text = "Training history"
	p.X.Label.Text = "epoch"
	p.Legend.Top = true

	hasVal := false
	for _, pt := range points {
		if pt.ValLoss != 0 || pt.ValAccuracy != 0 {
			hasVal = true
			break
		}
	}

	series := []interface{}{
		"loss", curve(points, func(pt CurvePoint) float64 { return pt.Loss }),
		"accuracy", curve(points, func(pt CurvePoint) float64 { return pt.Accuracy }),
	}
	if hasVal {
		series = append(series,
			"val loss", curve(points, func(pt CurvePoint) float64 { return pt.ValLoss }),
			"val accuracy", curve(points, func(pt CurvePoint) float64 { return pt.ValAccuracy }),
		)
	}
	if err := plotutil.AddLinePoints(p, series...); err != nil {
		return faults.Wrap(faults.KindConfig, err, "building training chart")
	}

	if err := p.Save(8*vg.Inch, 5*vg.Inch, s.Path); err != nil {
		return faults.Wrap(faults.KindConfig, err, "saving training chart")
	}
	logrus.Infof("training curves written to %s", s.Path)
	return nil
}

func curve(points []CurvePoint, pick func(CurvePoint) float64) plotter.XYs {
	xys := make(plotter.XYs, len(points))
	for i, pt := range points {
		xys[i].X = float64(pt.Epoch)
		xys[i].Y = pick(pt)
	}
	return xys
}
