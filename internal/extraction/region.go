package extraction

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseRegion reads "x,y,width,height". An empty string means no region.
func ParseRegion(s string) (*Region, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("region %q: want x,y,width,height", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("region %q: %w", s, err)
		}
		if n < 0 {
			return nil, fmt.Errorf("region %q: negative value %d", s, n)
		}
		v[i] = n
	}
	if v[2] == 0 || v[3] == 0 {
		return nil, fmt.Errorf("region %q: width and height must be positive", s)
	}
	return &Region{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}
