package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/varalys/osintkit/internal/artifacts"
	"github.com/varalys/osintkit/internal/types"
)

// LogLayout is the bracketed timestamp layout of common/combined log format.
const LogLayout = "02/Jan/2006:15:04:05 -0700"

// reAccessLog matches common log format with an optional combined-format
// referer and user agent.
var reAccessLog = regexp.MustCompile(`^(\d+\.\d+\.\d+\.\d+) .* \[(.*?)\] "(.*?)" (\d+) (\d+)(?: "(.*?)" "(.*?)")?`)

// ParseLogLine applies the access-log grammar to one line.
func ParseLogLine(number int, text string) (types.Record, error) {
	return logLine(&artifacts.LogLine{Number: number, Text: text})
}

func logLine(l *artifacts.LogLine) (types.Record, error) {
	id := fmt.Sprintf("line:%d", l.Number)
	if l.Truncated {
		return types.Record{}, &SkipError{Reason: ReasonTooLong, Entry: id}
	}
	m := reAccessLog.FindStringSubmatch(l.Text)
	if m == nil {
		return types.Record{}, &SkipError{Reason: ReasonGrammar, Entry: id}
	}
	rec := types.Record{
		Kind:       types.KindLogLine,
		ID:         id,
		Actors:     []string{m[1]},
		Attributes: map[string]any{"request": m[3]},
	}
	if ts, err := time.Parse(LogLayout, m[2]); err == nil {
		ts = ts.UTC()
		rec.Timestamp = &ts
	} else {
		rec.RawTimestamp = m[2]
	}
	if parts := strings.Fields(m[3]); len(parts) == 3 {
		rec.Attributes["method"] = parts[0]
		rec.Attributes["path"] = parts[1]
		rec.Attributes["protocol"] = parts[2]
	}
	// both groups are \d+ so only overflow can fail
	if status, err := strconv.ParseInt(m[4], 10, 64); err == nil {
		rec.Attributes["status"] = status
	}
	if n, err := strconv.ParseFloat(m[5], 64); err == nil {
		rec.Value = n
		rec.HasValue = true
	}
	setString(rec.Attributes, "referer", dash(m[6]))
	setString(rec.Attributes, "user_agent", dash(m[7]))
	return rec, nil
}

func dash(s string) string {
	if s == "-" {
		return ""
	}
	return s
}
