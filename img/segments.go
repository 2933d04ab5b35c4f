package img

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aarsakian/ImageAccess/logger"
)

// Split raw images follow a handful of naming conventions for their
// continuation segments. A NamingScheme is detected from the first file
// name and then generates the rest of the set. Segment numbers are 1-based
// and segment 1 is always the starting name itself.
type NamingScheme interface {
	// NextName returns the file name of the given segment number. The
	// second result is false once the scheme cannot represent the number
	// (a fixed-width alphabetic field runs out after zz/zzz).
	NextName(segment int) (string, bool)
	Describe() string
}

// numericScheme covers zero-padded numeric counters such as image.001,
// image_000 or image.01. Zero- or one-based is inferred from the value of
// the trailing digit run, its length fixes the padding width. The counter
// is allowed to outgrow the original width: FTK produces foo.1000 after
// foo.999 for large sets.
type numericScheme struct {
	prefix string
	width  int
	base   int // value of the first segment's counter, 0 or 1
}

func (sch numericScheme) NextName(segment int) (string, bool) {
	return fmt.Sprintf("%s%0*d", sch.prefix, sch.width, sch.base+segment-1), true
}

func (sch numericScheme) Describe() string {
	return fmt.Sprintf("numeric counter, width %d, %d-based", sch.width, sch.base)
}

// alphaScheme covers fixed-width lowercase alphabetic counters such as
// image.aaa or imagexaa, incremented base-26 over the field. Unlike the
// numeric scheme the field never widens: after the all-z name there is no
// further segment.
type alphaScheme struct {
	prefix string
	width  int
}

func (sch alphaScheme) NextName(segment int) (string, bool) {
	counter := segment - 1
	field := make([]byte, sch.width)
	for i := sch.width - 1; i >= 0; i-- {
		field[i] = 'a' + byte(counter%26)
		counter /= 26
	}
	if counter > 0 {
		return "", false
	}
	return sch.prefix + string(field), true
}

func (sch alphaScheme) Describe() string {
	return fmt.Sprintf("alphabetic counter, width %d", sch.width)
}

// dmgScheme covers Apple disk images: file.dmg continues as
// file.002.dmgpart, file.003.dmgpart and so on.
type dmgScheme struct {
	first string
}

func (sch dmgScheme) NextName(segment int) (string, bool) {
	if segment == 1 {
		return sch.first, true
	}
	return fmt.Sprintf("%s%03d.dmgpart", sch.first[:len(sch.first)-3], segment), true
}

func (sch dmgScheme) Describe() string {
	return "dmg/dmgpart"
}

// binScheme covers file.bin sets that continue as file(2).bin, file(3).bin.
type binScheme struct {
	first string
}

func (sch binScheme) NextName(segment int) (string, bool) {
	if segment == 1 {
		return sch.first, true
	}
	return fmt.Sprintf("%s(%d).bin", sch.first[:len(sch.first)-4], segment), true
}

func (sch binScheme) Describe() string {
	return "parenthesized bin"
}

// DetectScheme inspects the first segment name and returns the naming
// scheme it follows, or nil when no multi-segment convention is
// recognized (a single-file image).
func DetectScheme(firstName string) NamingScheme {
	if run := trailingRun(firstName, isDigit); run >= 1 {
		lead := len(firstName) - run - 1
		if lead >= 0 && (firstName[lead] == '.' || firstName[lead] == '_') {
			value, err := strconv.Atoi(firstName[len(firstName)-run:])
			if err == nil && value <= 1 {
				return numericScheme{
					prefix: firstName[:len(firstName)-run],
					width:  run,
					base:   value,
				}
			}
		}
	}

	if run := trailingRun(firstName, isLowerA); run >= 2 {
		lead := len(firstName) - run - 1
		if lead >= 0 {
			switch firstName[lead] {
			case '.', '_', 'x':
				return alphaScheme{
					prefix: firstName[:len(firstName)-run],
					width:  run,
				}
			}
		}
	}

	if strings.HasSuffix(firstName, ".dmg") {
		return dmgScheme{first: firstName}
	}
	if strings.HasSuffix(firstName, ".bin") {
		return binScheme{first: firstName}
	}
	return nil
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func isLowerA(b byte) bool {
	return b == 'a'
}

// trailingRun counts how many bytes at the end of name satisfy match.
func trailingRun(name string, match func(byte) bool) int {
	run := 0
	for i := len(name) - 1; i >= 0 && match(name[i]); i-- {
		run++
	}
	return run
}

// FindSegmentFiles discovers the ordered segment set of a split image,
// probing generated names until one is missing or the scheme is exhausted.
// An image whose name matches no convention is returned as a single
// segment. The only error case is a first path that does not exist.
func FindSegmentFiles(firstName string) ([]string, error) {
	if _, err := os.Stat(firstName); err != nil {
		return nil, WrapError(ErrArgument, err, "first segment %s does not exist", firstName)
	}

	scheme := DetectScheme(firstName)
	if scheme == nil {
		return []string{firstName}, nil
	}

	var segments []string
	for segment := 1; ; segment++ {
		name, ok := scheme.NextName(segment)
		if !ok {
			break
		}
		if _, err := os.Stat(name); err != nil {
			break
		}
		segments = append(segments, name)
	}
	logger.IMGLogger.Info(fmt.Sprintf("segment discovery (%s): %d segments found",
		scheme.Describe(), len(segments)))
	return segments, nil
}
