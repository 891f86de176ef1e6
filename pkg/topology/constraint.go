package topology

import (
	"fmt"
	"strconv"
	"strings"
)

// Constraint limits how many hosts a component is placed on.
//
//	[N]        exactly N
//	[+]        every host of the cluster
//	[odd]      an odd number
//	[min, +]   at least min
//	[min, odd] at least min and odd, or zero when min is zero
//	[min, max] between min and max
type Constraint struct {
	Min int
	Max int // -1: unbounded
	All bool
	Odd bool
}

// DefaultConstraint allows any placement
var DefaultConstraint = Constraint{Min: 0, Max: -1}

// ParseConstraint reads the bundle notation of a constraint
func ParseConstraint(raw []string) (Constraint, error) {
	switch len(raw) {
	case 0:
		return DefaultConstraint, nil
	case 1:
		switch strings.TrimSpace(raw[0]) {
		case "+":
			return Constraint{Max: -1, All: true}, nil
		case "odd":
			return Constraint{Min: 1, Max: -1, Odd: true}, nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw[0]))
		if err != nil || n < 0 {
			return Constraint{}, fmt.Errorf("invalid constraint %v", raw)
		}
		return Constraint{Min: n, Max: n}, nil
	case 2:
		min, err := strconv.Atoi(strings.TrimSpace(raw[0]))
		if err != nil || min < 0 {
			return Constraint{}, fmt.Errorf("invalid constraint %v", raw)
		}
		switch strings.TrimSpace(raw[1]) {
		case "+":
			return Constraint{Min: min, Max: -1}, nil
		case "odd":
			return Constraint{Min: min, Max: -1, Odd: true}, nil
		}
		max, err := strconv.Atoi(strings.TrimSpace(raw[1]))
		if err != nil || max < min {
			return Constraint{}, fmt.Errorf("invalid constraint %v", raw)
		}
		return Constraint{Min: min, Max: max}, nil
	}
	return Constraint{}, fmt.Errorf("invalid constraint %v", raw)
}

// Check verifies a placement count; clusterHosts is the number of hosts in
// the cluster
func (c Constraint) Check(count, clusterHosts int) error {
	if c.All {
		if count != clusterHosts {
			return fmt.Errorf("should be placed on all %d hosts of the cluster, not %d", clusterHosts, count)
		}
		return nil
	}
	if count < c.Min {
		return fmt.Errorf("should be placed on at least %d hosts, not %d", c.Min, count)
	}
	if c.Max >= 0 && count > c.Max {
		return fmt.Errorf("should be placed on at most %d hosts, not %d", c.Max, count)
	}
	if c.Odd && count%2 == 0 && !(count == 0 && c.Min == 0) {
		return fmt.Errorf("should be placed on an odd number of hosts, not %d", count)
	}
	return nil
}

func (c Constraint) String() string {
	switch {
	case c.All:
		return "[+]"
	case c.Odd && c.Min == 1 && c.Max < 0:
		return "[odd]"
	case c.Odd:
		return fmt.Sprintf("[%d,odd]", c.Min)
	case c.Max < 0:
		return fmt.Sprintf("[%d,+]", c.Min)
	case c.Min == c.Max:
		return fmt.Sprintf("[%d]", c.Min)
	}
	return fmt.Sprintf("[%d,%d]", c.Min, c.Max)
}
