package aligndem

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"go.viam.com/demalign/pointcloud"
	"go.viam.com/demalign/rimage"
	"go.viam.com/demalign/vision/keypoints"
)

// Table renders the outcome of a run for the console.
func (res *Result) Table() string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Stage", "Value"})
	t.AppendRow(table.Row{"matches", res.Matches})
	t.AppendRow(table.Row{"lifted pairs", res.Report.Pairs})
	t.AppendRow(table.Row{"dropped on no-data", res.Dropped})
	t.AppendRow(table.Row{"inliers", res.Report.Inliers})
	t.AppendRow(table.Row{"mean residual (m)", fmt.Sprintf("%.3f", res.Report.MeanResidual)})
	t.AppendRow(table.Row{"max residual (m)", fmt.Sprintf("%.3f", res.Report.MaxResidual)})
	t.AppendRow(table.Row{"median horizontal offset (m)", fmt.Sprintf("%.3f", res.MedianHorizontalOffset)})
	tr := res.Transform.Translation()
	t.AppendRow(table.Row{"translation (m)", fmt.Sprintf("X:%.3f, Y:%.3f, Z:%.3f", tr.X, tr.Y, tr.Z)})
	t.AppendRow(table.Row{"valid DEM pixels", res.PointCloud.Valid})
	t.AppendRow(table.Row{"no-data DEM pixels", res.PointCloud.NoData})
	t.AppendFooter(table.Row{"report", res.ReportPath})
	return t.Render()
}

// writeResidualPlot saves a histogram of the inlier residuals.
func writeResidualPlot(residuals []float64, path string) error {
	if len(residuals) == 0 {
		return errors.New("no residuals to plot")
	}
	p := plot.New()
	p.Title.Text = "Inlier residuals"
	p.X.Label.Text = "Residual (m)"
	p.Y.Label.Text = "Count"
	hist, err := plotter.NewHist(plotter.Values(residuals), 16)
	if err != nil {
		return err
	}
	p.Add(hist)
	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "saving residual plot %q", path)
	}
	return nil
}

// writeMatchPlot draws the correspondences between both orthoimages.
func writeMatchPlot(ortho1, ortho2 string, a, b []keypoints.InterestPoint, path string) error {
	img1, err := rimage.LoadGray(ortho1)
	if err != nil {
		return err
	}
	img2, err := rimage.LoadGray(ortho2)
	if err != nil {
		return err
	}
	return keypoints.PlotMatches(img1.ToGray(), img2.ToGray(), a, b, path)
}

// writeInliers saves the inlier points of the first DEM, each tagged with the index of its
// correspondence.
func writeInliers(lifted *LiftResult, inliers []int, path string) error {
	cloud := pointcloud.NewWithPrealloc(len(inliers))
	for _, i := range inliers {
		cloud.AddWithValue(lifted.P1[i], lifted.Indices[i])
	}
	return pointcloud.WritePCDFile(cloud, path, pointcloud.PCDBinary)
}
