package wire

// Annex-B NAL unit type values used to recognise SPS/PPS/IDR when
// scanning an access unit for keyframe completeness.
const (
	NALTypeSPS byte = 7
	NALTypePPS byte = 8
	NALTypeIDR byte = 5
)

// StartCode is the 4-byte Annex-B start code every NAL unit in the
// pipeline is prefixed with.
var StartCode = []byte{0x00, 0x00, 0x00, 0x01}

// NALUnit is one start-code-delimited unit within an Annex-B access unit.
// Data excludes the start code and the leading NAL header byte is Data[0].
type NALUnit struct {
	Type byte
	Data []byte
}

// ScanAnnexB walks buf and returns every NAL unit delimited by a 3- or
// 4-byte start code, tolerating either variant the way real encoders mix
// them (some bitstreams downstream of h264_mp4toannexb use 3-byte codes
// for non-initial units).
func ScanAnnexB(buf []byte) []NALUnit {
	starts := findStartCodes(buf)
	if len(starts) == 0 {
		return nil
	}

	units := make([]NALUnit, 0, len(starts))
	for i, s := range starts {
		dataStart := s.offset + s.length
		var dataEnd int
		if i+1 < len(starts) {
			dataEnd = starts[i+1].offset
		} else {
			dataEnd = len(buf)
		}
		if dataStart >= dataEnd {
			continue
		}
		nalData := buf[dataStart:dataEnd]
		units = append(units, NALUnit{Type: nalData[0] & 0x1F, Data: nalData})
	}
	return units
}

type startCodeMatch struct {
	offset int
	length int
}

func findStartCodes(buf []byte) []startCodeMatch {
	var matches []startCodeMatch
	for i := 0; i+2 < len(buf); i++ {
		if buf[i] != 0x00 || buf[i+1] != 0x00 {
			continue
		}
		if buf[i+2] == 0x01 {
			matches = append(matches, startCodeMatch{offset: i, length: 3})
			i += 2
			continue
		}
		if i+3 < len(buf) && buf[i+2] == 0x00 && buf[i+3] == 0x01 {
			matches = append(matches, startCodeMatch{offset: i, length: 4})
			i += 3
		}
	}
	return matches
}

// HasKeyframeParameterSets reports whether units contains at least one
// SPS and one PPS NAL, which every keyframe must carry before its IDR.
func HasKeyframeParameterSets(units []NALUnit) (hasSPS, hasPPS bool) {
	for _, u := range units {
		switch u.Type {
		case NALTypeSPS:
			hasSPS = true
		case NALTypePPS:
			hasPPS = true
		}
	}
	return
}

// IsKeyframe reports whether units contains an IDR slice.
func IsKeyframe(units []NALUnit) bool {
	for _, u := range units {
		if u.Type == NALTypeIDR {
			return true
		}
	}
	return false
}

// PrependParameterSets returns a new Annex-B buffer with sps and pps
// (each already Annex-B start-code framed) placed before accessUnit.
// Used when the encoder omits SPS/PPS on a keyframe and the pipeline must
// prepend them from the cached parameter sets.
func PrependParameterSets(sps, pps, accessUnit []byte) []byte {
	out := make([]byte, 0, len(sps)+len(pps)+len(accessUnit))
	out = append(out, sps...)
	out = append(out, pps...)
	out = append(out, accessUnit...)
	return out
}
