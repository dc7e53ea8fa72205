package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	sepRe  = regexp.MustCompile(`[\s_/#]+`)
	lineRe = regexp.MustCompile(`(?i)^(?:L|LINE)\s*(\d+)\b[-\s]*`)
	seqRe  = regexp.MustCompile(`[-\s]*(\d+)\s*$`)
)

// ParsedCode holds the structured data parsed from a logger asset code.
type ParsedCode struct {
	Line    int
	Station string
	Seq     int
}

// ParseAssetCode extracts line, station and sequence number from codes such
// as "L2-PRESS-03", "Line 1 / Packer #2" or "CNC-12".
func ParseAssetCode(raw string) (ParsedCode, error) {
	// 0) '#', '/', '_' act as separators, runs of whitespace collapse
	s := strings.TrimSpace(sepRe.ReplaceAllString(strings.TrimSpace(raw), " "))
	if s == "" {
		return ParsedCode{}, fmt.Errorf("empty asset code")
	}

	// 1) optional leading line prefix
	line := 0
	if loc := lineRe.FindStringSubmatchIndex(s); loc != nil {
		if n, err := strconv.Atoi(s[loc[2]:loc[3]]); err == nil {
			line = n
			s = strings.TrimSpace(s[loc[1]:])
		}
	}

	// 2) optional trailing sequence number
	seq := 0
	if loc := seqRe.FindStringSubmatchIndex(s); loc != nil {
		if n, err := strconv.Atoi(s[loc[2]:loc[3]]); err == nil {
			seq = n
			s = strings.TrimSpace(s[:loc[0]])
		}
	}

	// 3) whatever is left names the station
	station := strings.Trim(strings.ReplaceAll(s, " ", "-"), "-")
	if station == "" {
		return ParsedCode{}, fmt.Errorf("unable to parse station from asset code: %q", raw)
	}

	return ParsedCode{Line: line, Station: strings.ToUpper(station), Seq: seq}, nil
}
