package codegen

import "fmt"

const lowLevelPrefix = "LOW_LEVEL_LABEL_"

type labelKey struct {
	unit, scope, name string
}

// Labels hands out assembly labels for a whole translation run. Nothing it
// returns is ever returned again, so output of several units can be
// concatenated without collisions.
type Labels struct {
	lowCount    int
	scopedCount int
	remap       map[labelKey]string
	taken       map[string]bool
}

func NewLabels() *Labels {
	return &Labels{
		remap: make(map[labelKey]string),
		taken: make(map[string]bool),
	}
}

// Next returns a fresh branch label that VM source can never name.
func (l *Labels) Next() string {
	name := l.claim(fmt.Sprintf("%s%d", lowLevelPrefix, l.lowCount))
	l.lowCount++
	return name
}

// Function claims name as a function entry label. It reports false when the
// name was already handed out.
func (l *Labels) Function(name string) bool {
	if l.taken[name] {
		return false
	}
	l.taken[name] = true
	return true
}

// Scoped maps a VM label declared or referenced in scope (the enclosing
// function, or the unit name outside any function) to its assembly label.
// The same (unit, scope, name) always maps to the same result.
func (l *Labels) Scoped(unit, scope, name string) string {
	key := labelKey{unit, scope, name}
	if label, ok := l.remap[key]; ok {
		return label
	}
	label := l.claim(scope + "$" + name)
	l.remap[key] = label
	return label
}

// ReturnAddress returns a fresh label for the instruction following a call
// made from scope.
func (l *Labels) ReturnAddress(scope string) string {
	label := l.claim(fmt.Sprintf("%s$ret.%d", scope, l.lowCount))
	l.lowCount++
	return label
}

func (l *Labels) claim(label string) string {
	candidate := label
	for l.taken[candidate] {
		candidate = fmt.Sprintf("%s.%d", label, l.scopedCount)
		l.scopedCount++
	}
	l.taken[candidate] = true
	return candidate
}
