package hook

import "fmt"

// Priority is the dispatch order of a hook registration. Lower values run
// earlier. The named bands are a convention; any integer is valid.
type Priority int

const (
	Core    Priority = -2000
	Highest Priority = -1000
	High    Priority = -500
	Neutral Priority = 0
	Low     Priority = 500
	Lowest  Priority = 1000
)

// ParsePriority maps a band name to its Priority. Unknown names are
// rejected rather than silently coerced to Neutral.
func ParsePriority(name string) (Priority, error) {
	switch name {
	case "core":
		return Core, nil
	case "highest":
		return Highest, nil
	case "high":
		return High, nil
	case "neutral":
		return Neutral, nil
	case "low":
		return Low, nil
	case "lowest":
		return Lowest, nil
	default:
		return 0, fmt.Errorf("unknown priority band: %q", name)
	}
}
