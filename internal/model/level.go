package model

import (
	"fmt"
	"strings"
)

// Level is the ordered log severity. Higher values are more severe.
type Level int

const (
	LevelVerbose Level = iota
	LevelDebug
	LevelInformation
	LevelWarning
	LevelError
	LevelFatal
)

var levelNames = map[Level]string{
	LevelVerbose:     "Verbose",
	LevelDebug:       "Debug",
	LevelInformation: "Information",
	LevelWarning:     "Warning",
	LevelError:       "Error",
	LevelFatal:       "Fatal",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

func (l Level) Valid() bool {
	return l >= LevelVerbose && l <= LevelFatal
}

func (l Level) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

func (l *Level) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	parsed, err := ParseLevel(raw)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel accepts the canonical level names case-insensitively, plus the
// short aliases commonly seen in config files.
func ParseLevel(raw string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "verbose", "trace":
		return LevelVerbose, nil
	case "debug":
		return LevelDebug, nil
	case "information", "info":
		return LevelInformation, nil
	case "warning", "warn":
		return LevelWarning, nil
	case "error":
		return LevelError, nil
	case "fatal", "critical":
		return LevelFatal, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", raw)
	}
}

// AllLevels returns the levels in ascending severity order.
func AllLevels() []Level {
	return []Level{LevelVerbose, LevelDebug, LevelInformation, LevelWarning, LevelError, LevelFatal}
}
