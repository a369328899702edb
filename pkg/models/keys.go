package models

import (
	"strings"

	"github.com/openedx/event-sink-clickhouse/pkg/errors"
)

const (
	courseKeyPrefix = "course-v1"
	ccxKeyPrefix    = "ccx-v1"
	usageKeyPrefix  = "block-v1"
	ccxUsagePrefix  = "ccx-block-v1"
)

// CourseKey identifies a course run, optionally pinned to a branch and version.
type CourseKey struct {
	Org     string
	Course  string
	Run     string
	Branch  string
	Version string
	// CCX is set for custom courses derived from a master course
	CCX string
}

// ParseCourseKey parses course-v1 and ccx-v1 keys.
func ParseCourseKey(s string) (CourseKey, error) {
	prefix, body, ok := strings.Cut(s, ":")
	if !ok || (prefix != courseKeyPrefix && prefix != ccxKeyPrefix) {
		return CourseKey{}, errors.Newf(errors.ErrorTypeValidation, "invalid course key %q", s)
	}

	key, rest, err := parseCourseParts(body)
	if err != nil {
		return CourseKey{}, errors.Wrap(err, errors.ErrorTypeValidation, "invalid course key "+s)
	}
	for _, tag := range rest {
		name, value, _ := strings.Cut(tag, "@")
		if name != "ccx" || prefix != ccxKeyPrefix {
			return CourseKey{}, errors.Newf(errors.ErrorTypeValidation, "unexpected part %q in course key %q", tag, s)
		}
		key.CCX = value
	}
	if prefix == ccxKeyPrefix && key.CCX == "" {
		return CourseKey{}, errors.Newf(errors.ErrorTypeValidation, "ccx key %q has no ccx id", s)
	}
	return key, nil
}

// parseCourseParts reads org+course+run and the branch/version tags, returning the
// tags it did not consume.
func parseCourseParts(body string) (CourseKey, []string, error) {
	parts := strings.Split(body, "+")
	if len(parts) < 3 {
		return CourseKey{}, nil, errors.New(errors.ErrorTypeValidation, "expected org+course+run")
	}
	key := CourseKey{Org: parts[0], Course: parts[1], Run: parts[2]}
	if key.Org == "" || key.Course == "" || key.Run == "" {
		return CourseKey{}, nil, errors.New(errors.ErrorTypeValidation, "empty org, course or run")
	}

	var rest []string
	for _, tag := range parts[3:] {
		name, value, ok := strings.Cut(tag, "@")
		if !ok {
			return CourseKey{}, nil, errors.Newf(errors.ErrorTypeValidation, "malformed part %q", tag)
		}
		switch name {
		case "branch":
			key.Branch = value
		case "version":
			key.Version = value
		default:
			rest = append(rest, tag)
		}
	}
	return key, rest, nil
}

func (k CourseKey) body() string {
	var b strings.Builder
	b.WriteString(k.Org)
	b.WriteByte('+')
	b.WriteString(k.Course)
	b.WriteByte('+')
	b.WriteString(k.Run)
	if k.Branch != "" {
		b.WriteString("+branch@")
		b.WriteString(k.Branch)
	}
	if k.Version != "" {
		b.WriteString("+version@")
		b.WriteString(k.Version)
	}
	return b.String()
}

// String renders the key in its canonical form
func (k CourseKey) String() string {
	if k.CCX != "" {
		return ccxKeyPrefix + ":" + k.body() + "+ccx@" + k.CCX
	}
	return courseKeyPrefix + ":" + k.body()
}

// ForBranch returns the key without branch and version
func (k CourseKey) ForBranch() CourseKey {
	k.Branch = ""
	k.Version = ""
	return k
}

// UsageKey identifies a block within a course.
type UsageKey struct {
	Course    CourseKey
	BlockType string
	BlockID   string
}

// ParseUsageKey parses block-v1 and ccx-block-v1 keys.
func ParseUsageKey(s string) (UsageKey, error) {
	prefix, body, ok := strings.Cut(s, ":")
	if !ok || (prefix != usageKeyPrefix && prefix != ccxUsagePrefix) {
		return UsageKey{}, errors.Newf(errors.ErrorTypeValidation, "invalid usage key %q", s)
	}

	course, rest, err := parseCourseParts(body)
	if err != nil {
		return UsageKey{}, errors.Wrap(err, errors.ErrorTypeValidation, "invalid usage key "+s)
	}

	key := UsageKey{Course: course}
	for _, tag := range rest {
		name, value, _ := strings.Cut(tag, "@")
		switch name {
		case "type":
			key.BlockType = value
		case "block":
			key.BlockID = value
		case "ccx":
			if prefix != ccxUsagePrefix {
				return UsageKey{}, errors.Newf(errors.ErrorTypeValidation, "unexpected part %q in usage key %q", tag, s)
			}
			key.Course.CCX = value
		default:
			return UsageKey{}, errors.Newf(errors.ErrorTypeValidation, "unexpected part %q in usage key %q", tag, s)
		}
	}
	if key.BlockType == "" || key.BlockID == "" {
		return UsageKey{}, errors.Newf(errors.ErrorTypeValidation, "usage key %q needs type and block", s)
	}
	if prefix == ccxUsagePrefix && key.Course.CCX == "" {
		return UsageKey{}, errors.Newf(errors.ErrorTypeValidation, "ccx usage key %q has no ccx id", s)
	}
	return key, nil
}

// MustParseUsageKey is ParseUsageKey for keys known to be valid. It panics otherwise.
func MustParseUsageKey(s string) UsageKey {
	key, err := ParseUsageKey(s)
	if err != nil {
		panic(err)
	}
	return key
}

// String renders the key in its canonical form. Blocks of custom courses keep
// their ccx id.
func (u UsageKey) String() string {
	tail := "+type@" + u.BlockType + "+block@" + u.BlockID
	if u.Course.CCX != "" {
		return ccxUsagePrefix + ":" + u.Course.body() + "+ccx@" + u.Course.CCX + tail
	}
	return usageKeyPrefix + ":" + u.Course.body() + tail
}

// StripBranchAndVersion returns the identity of the block independent of the
// branch or version it was read from.
func (u UsageKey) StripBranchAndVersion() UsageKey {
	u.Course = u.Course.ForBranch()
	return u
}

// IsZero reports whether the key is unset
func (u UsageKey) IsZero() bool {
	return u == UsageKey{}
}
