package app

import (
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
)

const (
	ansiReset   = "\x1b[0m"
	ansiDim     = "\x1b[2m"
	ansiBright  = "\x1b[1m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// stripANSI removes color escape sequences, for width math and tests.
func stripANSI(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}

// visualLen is the printable width of s, ignoring color escapes.
func visualLen(s string) int {
	return len([]rune(stripANSI(s)))
}

// wrapSegments joins segments with sep, breaking onto continuation lines
// prefixed with cont when a line would exceed width. A single segment wider
// than the budget is truncated with an ellipsis.
func wrapSegments(segments []string, sep string, width int, cont string) []string {
	var lines []string
	var cur string

	budget := func(first bool) int {
		if first {
			return width
		}
		return width - visualLen(cont)
	}

	flush := func() {
		if cur != "" {
			if len(lines) > 0 {
				cur = cont + cur
			}
			lines = append(lines, cur)
			cur = ""
		}
	}

	for _, seg := range segments {
		if w := budget(len(lines) == 0 && cur == ""); visualLen(seg) > w {
			seg = truncateVisual(seg, w)
		}
		switch {
		case cur == "":
			cur = seg
		case visualLen(cur)+visualLen(sep)+visualLen(seg) <= budget(len(lines) == 0):
			cur += sep + seg
		default:
			flush()
			cur = seg
		}
	}
	flush()
	return lines
}

func truncateVisual(s string, width int) string {
	runes := []rune(stripANSI(s))
	if len(runes) <= width || width < 2 {
		return s
	}
	return string(runes[:width-1]) + "…"
}

const (
	minLogWidth     = 40
	defaultLogWidth = 100
)

// terminalWidth picks the wrap width: IMZO_LOG_WIDTH wins, then COLUMNS,
// then a fixed default. Values below the minimum fall back to the default.
func (h *prettyHandler) terminalWidth() int {
	for _, key := range []string{"IMZO_LOG_WIDTH", "COLUMNS"} {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < minLogWidth {
			continue
		}
		return n
	}
	return defaultLogWidth
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	default:
		return 0, false
	}
}

func colorizeHTTPMethod(method string, color bool) string {
	if !color {
		return method
	}
	switch method {
	case "GET":
		return ansiGreen + method + ansiReset
	case "POST":
		return ansiBlue + method + ansiReset
	case "PUT", "PATCH":
		return ansiYellow + method + ansiReset
	case "DELETE":
		return ansiRed + method + ansiReset
	default:
		return method
	}
}

func colorizeStatusCode(status int, color bool) string {
	s := strconv.Itoa(status)
	if !color {
		return s
	}
	switch {
	case status >= 500:
		return ansiRed + s + ansiReset
	case status >= 400:
		return ansiYellow + s + ansiReset
	case status >= 300:
		return ansiCyan + s + ansiReset
	default:
		return ansiGreen + s + ansiReset
	}
}

func colorizeStatusClass(class string, color bool) string {
	if !color {
		return class
	}
	switch class {
	case "5xx":
		return ansiRed + class + ansiReset
	case "4xx":
		return ansiYellow + class + ansiReset
	default:
		return ansiGreen + class + ansiReset
	}
}

func colorizeDurationMS(ms int64, color bool) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	if !color {
		return s
	}
	switch {
	case ms >= 1000:
		return ansiRed + s + ansiReset
	case ms >= 200:
		return ansiYellow + s + ansiReset
	default:
		return ansiDim + s + ansiReset
	}
}

func colorizeResult(result string, color bool) string {
	if !color {
		return result
	}
	switch result {
	case "ok", "success":
		return ansiGreen + result + ansiReset
	case "fail", "error":
		return ansiRed + result + ansiReset
	default:
		return result
	}
}
