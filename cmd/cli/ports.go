package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const maxPort = 65535

// parsePorts expands a port specification such as "22,80-90,443" into a
// sorted list of unique ports.
func parsePorts(spec string) ([]int, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, fmt.Errorf("empty port specification")
	}

	seen := make(map[int]bool)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		start, end, err := parsePortPart(part)
		if err != nil {
			return nil, err
		}
		for p := start; p <= end; p++ {
			seen[p] = true
		}
	}

	if len(seen) == 0 {
		return nil, fmt.Errorf("empty port specification")
	}
	ports := make([]int, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports, nil
}

// parsePortPart parses a single port or a start-end range.
func parsePortPart(part string) (start, end int, err error) {
	if !strings.Contains(part, "-") {
		p, err := parsePort(part)
		return p, p, err
	}

	rangeParts := strings.Split(part, "-")
	if len(rangeParts) != 2 {
		return 0, 0, fmt.Errorf("invalid port range: %s", part)
	}
	if start, err = parsePort(rangeParts[0]); err != nil {
		return 0, 0, fmt.Errorf("invalid start port in range: %s", rangeParts[0])
	}
	if end, err = parsePort(rangeParts[1]); err != nil {
		return 0, 0, fmt.Errorf("invalid end port in range: %s", rangeParts[1])
	}
	if start > end {
		return 0, 0, fmt.Errorf("invalid port range: start port %d greater than end port %d", start, end)
	}
	return start, end, nil
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || p < 1 || p > maxPort {
		return 0, fmt.Errorf("invalid port: %s", s)
	}
	return p, nil
}
