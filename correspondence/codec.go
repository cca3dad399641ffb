package correspondence

import (
	"bytes"
	"math"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"go.viam.com/demalign/vision/keypoints"
)

// Every cache file starts with a magic string naming its content and format version, followed by
// protobuf wire format fields.
const (
	interestPointMagic = "demalign.vwip.1\n"
	matchMagic         = "demalign.match.1\n"
)

// Field numbers of the interest point file.
const (
	fieldDetectorParams protowire.Number = 1
	fieldInterestPoint  protowire.Number = 2
)

// Field numbers of the match file.
const (
	fieldMatchA protowire.Number = 1
	fieldMatchB protowire.Number = 2
)

// Field numbers of an interest point record.
const (
	fieldX protowire.Number = iota + 1
	fieldY
	fieldScale
	fieldOrientation
	fieldInterest
	fieldPolarity
	fieldDescriptor
)

// Field numbers of the detector parameters record.
const (
	fieldDetectorName protowire.Number = iota + 1
	fieldThreshold
	fieldMaxPoints
)

// DetectorParams records how the interest points of a file were produced.
type DetectorParams struct {
	Detector  string
	Threshold float64
	MaxPoints int
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendInterestPoint(b []byte, ip keypoints.InterestPoint) []byte {
	b = appendDouble(b, fieldX, ip.X)
	b = appendDouble(b, fieldY, ip.Y)
	b = appendDouble(b, fieldScale, ip.Scale)
	b = appendDouble(b, fieldOrientation, ip.Orientation)
	b = appendDouble(b, fieldInterest, ip.Interest)
	b = protowire.AppendTag(b, fieldPolarity, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(ip.Polarity))
	packed := make([]byte, 0, 4*len(ip.Descriptor))
	for _, v := range ip.Descriptor {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	b = protowire.AppendTag(b, fieldDescriptor, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

// EncodeInterestPoints serializes the interest points of one image.
func EncodeInterestPoints(params DetectorParams, ips []keypoints.InterestPoint) []byte {
	out := []byte(interestPointMagic)

	var p []byte
	p = protowire.AppendTag(p, fieldDetectorName, protowire.BytesType)
	p = protowire.AppendString(p, params.Detector)
	p = appendDouble(p, fieldThreshold, params.Threshold)
	p = protowire.AppendTag(p, fieldMaxPoints, protowire.VarintType)
	p = protowire.AppendVarint(p, uint64(params.MaxPoints))
	out = appendMessage(out, fieldDetectorParams, p)

	for _, ip := range ips {
		out = appendMessage(out, fieldInterestPoint, appendInterestPoint(nil, ip))
	}
	return out
}

// EncodeMatches serializes matched interest points. a and b must have the same length.
func EncodeMatches(a, b []keypoints.InterestPoint) ([]byte, error) {
	if len(a) != len(b) {
		return nil, errors.Errorf("cannot encode %d matches against %d", len(a), len(b))
	}
	out := []byte(matchMagic)
	for _, ip := range a {
		out = appendMessage(out, fieldMatchA, appendInterestPoint(nil, ip))
	}
	for _, ip := range b {
		out = appendMessage(out, fieldMatchB, appendInterestPoint(nil, ip))
	}
	return out, nil
}

// walkFields calls fn with each top level field of msg. Fields fn does not consume are skipped.
func walkFields(msg []byte, fn func(num protowire.Number, typ protowire.Type, value []byte) (int, error)) error {
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return protowire.ParseError(n)
		}
		msg = msg[n:]
		consumed, err := fn(num, typ, msg)
		if err != nil {
			return err
		}
		if consumed == 0 {
			consumed = protowire.ConsumeFieldValue(num, typ, msg)
		}
		if consumed < 0 {
			return protowire.ParseError(consumed)
		}
		msg = msg[consumed:]
	}
	return nil
}

func consumeDouble(typ protowire.Type, b []byte, dst *float64) (int, error) {
	if typ != protowire.Fixed64Type {
		return 0, errors.Errorf("expected a double, got wire type %d", typ)
	}
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = math.Float64frombits(v)
	return n, nil
}

func consumeVarint(typ protowire.Type, b []byte, dst *uint64) (int, error) {
	if typ != protowire.VarintType {
		return 0, errors.Errorf("expected a varint, got wire type %d", typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = v
	return n, nil
}

func consumeMessage(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, errors.Errorf("expected a message, got wire type %d", typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func decodeInterestPoint(msg []byte) (keypoints.InterestPoint, error) {
	var ip keypoints.InterestPoint
	err := walkFields(msg, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldX:
			return consumeDouble(typ, b, &ip.X)
		case fieldY:
			return consumeDouble(typ, b, &ip.Y)
		case fieldScale:
			return consumeDouble(typ, b, &ip.Scale)
		case fieldOrientation:
			return consumeDouble(typ, b, &ip.Orientation)
		case fieldInterest:
			return consumeDouble(typ, b, &ip.Interest)
		case fieldPolarity:
			var v uint64
			n, err := consumeVarint(typ, b, &v)
			ip.Polarity = protowire.DecodeBool(v)
			return n, err
		case fieldDescriptor:
			packed, n, err := consumeMessage(typ, b)
			if err != nil {
				return 0, err
			}
			if len(packed)%4 != 0 {
				return 0, errors.Errorf("descriptor of %d bytes is not a list of floats", len(packed))
			}
			ip.Descriptor = make([]float32, 0, len(packed)/4)
			for len(packed) > 0 {
				v, m := protowire.ConsumeFixed32(packed)
				if m < 0 {
					return 0, protowire.ParseError(m)
				}
				ip.Descriptor = append(ip.Descriptor, math.Float32frombits(v))
				packed = packed[m:]
			}
			return n, nil
		default:
			return 0, nil
		}
	})
	return ip, err
}

func decodeDetectorParams(msg []byte) (DetectorParams, error) {
	var params DetectorParams
	err := walkFields(msg, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldDetectorName:
			v, n, err := consumeMessage(typ, b)
			params.Detector = string(v)
			return n, err
		case fieldThreshold:
			return consumeDouble(typ, b, &params.Threshold)
		case fieldMaxPoints:
			var v uint64
			n, err := consumeVarint(typ, b, &v)
			params.MaxPoints = int(v)
			return n, err
		default:
			return 0, nil
		}
	})
	return params, err
}

func trimMagic(data []byte, magic string) ([]byte, error) {
	if !bytes.HasPrefix(data, []byte(magic)) {
		return nil, errors.Errorf("not a %q file", magic[:len(magic)-1])
	}
	return data[len(magic):], nil
}

// DecodeInterestPoints parses what EncodeInterestPoints wrote.
func DecodeInterestPoints(data []byte) (DetectorParams, []keypoints.InterestPoint, error) {
	body, err := trimMagic(data, interestPointMagic)
	if err != nil {
		return DetectorParams{}, nil, err
	}
	var params DetectorParams
	ips := []keypoints.InterestPoint{}
	err = walkFields(body, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != fieldDetectorParams && num != fieldInterestPoint {
			return 0, nil
		}
		msg, n, err := consumeMessage(typ, b)
		if err != nil {
			return 0, err
		}
		if num == fieldDetectorParams {
			params, err = decodeDetectorParams(msg)
			return n, err
		}
		ip, err := decodeInterestPoint(msg)
		if err != nil {
			return 0, errors.Wrapf(err, "interest point %d", len(ips))
		}
		ips = append(ips, ip)
		return n, nil
	})
	if err != nil {
		return DetectorParams{}, nil, errors.Wrap(err, "decoding interest points")
	}
	return params, ips, nil
}

// DecodeMatches parses what EncodeMatches wrote.
func DecodeMatches(data []byte) ([]keypoints.InterestPoint, []keypoints.InterestPoint, error) {
	body, err := trimMagic(data, matchMagic)
	if err != nil {
		return nil, nil, err
	}
	a, b := []keypoints.InterestPoint{}, []keypoints.InterestPoint{}
	err = walkFields(body, func(num protowire.Number, typ protowire.Type, value []byte) (int, error) {
		if num != fieldMatchA && num != fieldMatchB {
			return 0, nil
		}
		msg, n, err := consumeMessage(typ, value)
		if err != nil {
			return 0, err
		}
		ip, err := decodeInterestPoint(msg)
		if err != nil {
			return 0, err
		}
		if num == fieldMatchA {
			a = append(a, ip)
		} else {
			b = append(b, ip)
		}
		return n, nil
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "decoding matches")
	}
	if len(a) != len(b) {
		return nil, nil, errors.Errorf("match file holds %d points for the first image and %d for the second", len(a), len(b))
	}
	return a, b, nil
}
