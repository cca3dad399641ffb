package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
)

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

// WritePCDFile writes cloud to a new pcd file at path.
func WritePCDFile(cloud *Cloud, path string, outputType PCDType) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %q", path)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	w := bufio.NewWriter(f)
	if err := ToPCD(cloud, w, outputType); err != nil {
		return err
	}
	return w.Flush()
}

// ToPCD writes cloud in pcd format. Coordinates are stored as doubles in the cloud's own units;
// a cloud with values gets an extra integer "value" field, -1 for points without one.
func ToPCD(cloud *Cloud, out io.Writer, outputType PCDType) error {
	hasValue := cloud.MetaData().HasValue
	header := "VERSION .7\n"
	if hasValue {
		header += "FIELDS x y z value\n" +
			"SIZE 8 8 8 4\n" +
			"TYPE F F F I\n" +
			"COUNT 1 1 1 1\n"
	} else {
		header += "FIELDS x y z\n" +
			"SIZE 8 8 8\n" +
			"TYPE F F F\n" +
			"COUNT 1 1 1\n"
	}
	header += fmt.Sprintf("WIDTH %d\n"+
		"HEIGHT %d\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n",
		cloud.Size(), 1, cloud.Size())
	switch outputType {
	case PCDAscii:
		header += "DATA ascii\n"
	case PCDBinary:
		header += "DATA binary\n"
	default:
		return errors.Errorf("unsupported pcd type %d", outputType)
	}
	if _, err := io.WriteString(out, header); err != nil {
		return err
	}

	var err error
	buf := make([]byte, 28)
	cloud.Iterate(func(p r3.Vector, v int, has bool) bool {
		if !has {
			v = -1
		}
		switch outputType {
		case PCDBinary:
			binary.LittleEndian.PutUint64(buf, math.Float64bits(p.X))
			binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(p.Y))
			binary.LittleEndian.PutUint64(buf[16:], math.Float64bits(p.Z))
			n := 24
			if hasValue {
				binary.LittleEndian.PutUint32(buf[24:], uint32(int32(v)))
				n = 28
			}
			_, err = out.Write(buf[:n])
		case PCDAscii:
			line := formatFloat(p.X) + " " + formatFloat(p.Y) + " " + formatFloat(p.Z)
			if hasValue {
				line += " " + strconv.Itoa(v)
			}
			_, err = io.WriteString(out, line+"\n")
		}
		return err == nil
	})
	return err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

type pcdHeader struct {
	hasValue bool
	size     []int
	points   int
	data     PCDType
}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	if field != name {
		return fmt.Errorf("line is supposed to start with %s but is %s", name, line)
	}
	tokens := strings.Fields(value)
	fields := 3
	if header.hasValue {
		fields = 4
	}

	switch name {
	case "VERSION":
		if value != ".7" {
			return fmt.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		switch value {
		case "x y z":
		case "x y z value":
			header.hasValue = true
		default:
			return fmt.Errorf("unsupported pcd fields %s", value)
		}
	case "SIZE":
		if len(tokens) != fields {
			return fmt.Errorf("unexpected number of fields in SIZE line")
		}
		header.size = make([]int, len(tokens))
		for i, token := range tokens {
			size, err := strconv.Atoi(token)
			if err != nil {
				return fmt.Errorf("invalid SIZE field %s", token)
			}
			if (i < 3 && size != 8) || (i == 3 && size != 4) {
				return fmt.Errorf("unsupported size %d for field %d", size, i)
			}
			header.size[i] = size
		}
	case "TYPE", "COUNT":
		if len(tokens) != fields {
			return fmt.Errorf("unexpected number of fields in %s line", name)
		}
	case "WIDTH", "HEIGHT":
		if _, err := strconv.ParseUint(value, 10, 64); err != nil {
			return fmt.Errorf("invalid %s field %s: %w", name, value, err)
		}
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return fmt.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
	case "POINTS":
		points, err := strconv.Atoi(value)
		if err != nil || points < 0 {
			return fmt.Errorf("invalid POINTS field %s", value)
		}
		header.points = points
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		default:
			return fmt.Errorf("unsupported pcd data type %s", value)
		}
	}
	return nil
}

// ReadPCD reads a cloud written by ToPCD.
func ReadPCD(inRaw io.Reader) (*Cloud, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("error reading header line %d: %w", headerLineCount, err)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, err
		}
		headerLineCount++
	}
	if header.data == PCDAscii {
		return readPCDAscii(in, header)
	}
	return readPCDBinary(in, header)
}

func readPCDAscii(in *bufio.Reader, header pcdHeader) (*Cloud, error) {
	pc := NewWithPrealloc(header.points)
	for i := 0; i < header.points; i++ {
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return nil, err
		}
		tokens := strings.Fields(line)
		if len(tokens) != len(header.size) {
			return nil, fmt.Errorf("unexpected number of fields in point %d", i)
		}
		var xyz [3]float64
		for j := range xyz {
			if xyz[j], err = strconv.ParseFloat(tokens[j], 64); err != nil {
				return nil, fmt.Errorf("invalid point %d field %s: %w", i, tokens[j], err)
			}
		}
		p := r3.Vector{X: xyz[0], Y: xyz[1], Z: xyz[2]}
		if !header.hasValue {
			pc.Add(p)
			continue
		}
		v, err := strconv.Atoi(tokens[3])
		if err != nil {
			return nil, fmt.Errorf("invalid point %d value %s: %w", i, tokens[3], err)
		}
		pc.AddWithValue(p, v)
	}
	return pc, nil
}

func readPCDBinary(in *bufio.Reader, header pcdHeader) (*Cloud, error) {
	pc := NewWithPrealloc(header.points)
	n := 24
	if header.hasValue {
		n = 28
	}
	buf := make([]byte, n)
	for i := 0; i < header.points; i++ {
		if _, err := io.ReadFull(in, buf); err != nil {
			return nil, errors.Wrapf(err, "reading point %d", i)
		}
		p := r3.Vector{
			X: math.Float64frombits(binary.LittleEndian.Uint64(buf)),
			Y: math.Float64frombits(binary.LittleEndian.Uint64(buf[8:])),
			Z: math.Float64frombits(binary.LittleEndian.Uint64(buf[16:])),
		}
		if header.hasValue {
			pc.AddWithValue(p, int(int32(binary.LittleEndian.Uint32(buf[24:]))))
		} else {
			pc.Add(p)
		}
	}
	return pc, nil
}
