package aligndem

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"go.viam.com/demalign/spatialmath"
	rutils "go.viam.com/demalign/utils"
)

// reportDigits is the number of significant digits of matrix entries in the report.
const reportDigits = 15

// Report is the text summary of an alignment: the inlier count, the transform and residual
// statistics.
type Report struct {
	Inliers   int
	Pairs     int
	Transform *spatialmath.AffineTransform

	MeanResidual   float64
	MedianResidual float64
	MaxResidual    float64
}

// ReportPath returns where the report of aligning dem1 to dem2 is written.
func ReportPath(dem1, dem2 string) string {
	return filepath.Join(filepath.Dir(dem1), rutils.BaseName(dem1)+"__"+rutils.BaseName(dem2)+"-Matrix.txt")
}

// PointCloudPath returns where the transformed point cloud raster of prefix is written.
func PointCloudPath(prefix string) string {
	return prefix + "-PC.tif"
}

// InliersPath returns where the inlier point cloud of prefix is written.
func InliersPath(prefix string) string {
	return prefix + "-inliers.pcd"
}

// MatchPlotPath returns where the match visualisation of prefix is written.
func MatchPlotPath(prefix string) string {
	return prefix + "-matches.png"
}

// ResidualPlotPath returns where the residual histogram of prefix is written.
func ResidualPlotPath(prefix string) string {
	return prefix + "-residuals.png"
}

func (r *Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# inliers: %d\n", r.Inliers)
	for _, row := range r.Transform.FormatRows(reportDigits) {
		sb.WriteString(row)
		sb.WriteByte('\n')
	}
	fmt.Fprintf(&sb, "# pairs: %d\n", r.Pairs)
	fmt.Fprintf(&sb, "# mean residual: %g\n", r.MeanResidual)
	fmt.Fprintf(&sb, "# median residual: %g\n", r.MedianResidual)
	fmt.Fprintf(&sb, "# max residual: %g\n", r.MaxResidual)
	return sb.String()
}

// WriteReport writes r to path.
func WriteReport(path string, r *Report) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating report %q", path)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	if _, err := f.WriteString(r.String()); err != nil {
		return errors.Wrapf(err, "writing report %q", path)
	}
	return nil
}

// ReadReport parses a report written by WriteReport.
func ReadReport(path string) (*Report, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening report %q", path)
	}
	defer utils.UncheckedErrorFunc(f.Close)

	r := &Report{}
	var rows [][]float64
	scanner := bufio.NewScanner(f)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if comment, ok := strings.CutPrefix(line, "#"); ok {
			if err := r.parseComment(comment); err != nil {
				return nil, errors.Wrapf(err, "%s:%d", path, lineNo)
			}
			continue
		}
		fields := strings.Fields(line)
		row := make([]float64, len(fields))
		for i, field := range fields {
			if row[i], err = strconv.ParseFloat(field, 64); err != nil {
				return nil, errors.Wrapf(err, "%s:%d", path, lineNo)
			}
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading report %q", path)
	}
	if r.Transform, err = spatialmath.NewAffineTransformFromRows(rows); err != nil {
		return nil, errors.Wrapf(err, "report %q", path)
	}
	return r, nil
}

func (r *Report) parseComment(comment string) error {
	key, value, ok := strings.Cut(comment, ":")
	if !ok {
		return nil
	}
	value = strings.TrimSpace(value)
	var err error
	switch strings.TrimSpace(key) {
	case "inliers":
		r.Inliers, err = strconv.Atoi(value)
	case "pairs":
		r.Pairs, err = strconv.Atoi(value)
	case "mean residual":
		r.MeanResidual, err = strconv.ParseFloat(value, 64)
	case "median residual":
		r.MedianResidual, err = strconv.ParseFloat(value, 64)
	case "max residual":
		r.MaxResidual, err = strconv.ParseFloat(value, 64)
	}
	return err
}
