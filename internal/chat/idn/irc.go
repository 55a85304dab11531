package idn

import "strings"

// line is one parsed IRC frame.
type line struct {
	prefix  string
	command string
	params  []string
}

// trailing returns the last parameter, which carries the message body.
func (parsed line) trailing() string {
	if len(parsed.params) == 0 {
		return ""
	}
	return parsed.params[len(parsed.params)-1]
}

func parseLine(raw string) (line, bool) {
	raw = strings.TrimRight(raw, "\r\n")
	if raw == "" {
		return line{}, false
	}
	var parsed line
	if strings.HasPrefix(raw, "@") {
		space := strings.IndexByte(raw, ' ')
		if space < 0 {
			return line{}, false
		}
		raw = raw[space+1:]
	}
	if strings.HasPrefix(raw, ":") {
		space := strings.IndexByte(raw, ' ')
		if space < 0 {
			return line{}, false
		}
		parsed.prefix = raw[1:space]
		raw = raw[space+1:]
	}
	trailing, hasTrailing := "", false
	if index := strings.Index(raw, " :"); index >= 0 {
		trailing, hasTrailing = raw[index+2:], true
		raw = raw[:index]
	} else if strings.HasPrefix(raw, ":") {
		trailing, hasTrailing = raw[1:], true
		raw = ""
	}
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return line{}, false
	}
	parsed.command = strings.ToUpper(fields[0])
	parsed.params = fields[1:]
	if hasTrailing {
		parsed.params = append(parsed.params, trailing)
	}
	return parsed, true
}

func splitFrames(payload string) []string {
	return strings.FieldsFunc(payload, func(r rune) bool { return r == '\n' || r == '\r' })
}
