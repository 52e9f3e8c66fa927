package signalr

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a protocol version with two to four numeric parts,
// e.g. "1.5" or "1.2.5.7". Build and Revision are -1 when the part is absent.
type Version struct {
	Major    int
	Minor    int
	Build    int
	Revision int
}

// NewVersion creates a two part Version.
func NewVersion(major, minor int) Version {
	return Version{Major: major, Minor: minor, Build: -1, Revision: -1}
}

// ParseVersion parses s as a version with two to four dot separated,
// non-negative numeric parts.
func ParseVersion(s string) (Version, error) {
	v := Version{Major: -1, Minor: -1, Build: -1, Revision: -1}
	parts := strings.Split(s, ".")
	if len(parts) < 2 || len(parts) > 4 {
		return v, fmt.Errorf("version %q: need 2 to 4 parts", s)
	}
	fields := []*int{&v.Major, &v.Minor, &v.Build, &v.Revision}
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return Version{Major: -1, Minor: -1, Build: -1, Revision: -1},
				fmt.Errorf("version %q: invalid part %q", s, part)
		}
		*fields[i] = n
	}
	return v, nil
}

// Compare returns -1, 0 or 1 if v is older than, equal to or newer than o.
// An absent part counts as older than a zero part, so 1.1 < 1.1.0.
func (v Version) Compare(o Version) int {
	for _, p := range [][2]int{
		{v.Major, o.Major},
		{v.Minor, o.Minor},
		{v.Build, o.Build},
		{v.Revision, o.Revision},
	} {
		if p[0] < p[1] {
			return -1
		}
		if p[0] > p[1] {
			return 1
		}
	}
	return 0
}

func (v Version) String() string {
	b := strings.Builder{}
	b.WriteString(strconv.Itoa(v.Major))
	b.WriteString(".")
	b.WriteString(strconv.Itoa(v.Minor))
	if v.Build >= 0 {
		b.WriteString(".")
		b.WriteString(strconv.Itoa(v.Build))
		if v.Revision >= 0 {
			b.WriteString(".")
			b.WriteString(strconv.Itoa(v.Revision))
		}
	}
	return b.String()
}
