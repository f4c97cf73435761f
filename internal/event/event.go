// Package event classifies raw UI change notifications.
//
// The six notification kinds form a closed set. Everything that varies per
// kind (name, priority tier, consumer targets) lives in a single table indexed
// by Type, so adding a kind is a change to the const block and the table only.
package event

import (
	"strings"
	"time"
)

// Type is the kind of UI change reported by the instrumentation source.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeContentReplaced
	TypeWindowChanged
	TypeElementActivated
	TypeElementFocused
	TypeTextChanged
	TypeScrolled

	numTypes
)

// NumTypes is the size of per-type arrays (including TypeUnknown at index 0).
const NumTypes = int(numTypes)

// Tier is a priority tier, 1 highest .. 4 lowest.
type Tier uint8

const (
	TierFullExtract    Tier = 1
	TierReextract      Tier = 2
	TierPartialRefresh Tier = 3
	TierTracking       Tier = 4
)

// Target names a consumer role.
type Target uint8

const (
	TargetRefresh Target = 1 << iota
	TargetCommand
	TargetTracking
)

// Targets is a set of consumer roles.
type Targets uint8

func (ts Targets) Has(t Target) bool { return uint8(ts)&uint8(t) != 0 }

// List returns the targets in fixed order (refresh, command, tracking).
func (ts Targets) List() []Target {
	out := make([]Target, 0, 3)
	for _, t := range AllTargets() {
		if ts.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

func (ts Targets) String() string {
	if ts == 0 {
		return "none"
	}
	parts := make([]string, 0, 3)
	for _, t := range ts.List() {
		parts = append(parts, t.String())
	}
	return strings.Join(parts, ",")
}

// AllTargets lists every consumer role.
func AllTargets() []Target { return []Target{TargetRefresh, TargetCommand, TargetTracking} }

func (t Target) String() string {
	switch t {
	case TargetRefresh:
		return "refresh"
	case TargetCommand:
		return "command"
	case TargetTracking:
		return "tracking"
	default:
		return "unknown"
	}
}

// ParseTarget maps a config/admin name to a Target.
func ParseTarget(s string) (Target, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "refresh":
		return TargetRefresh, true
	case "command":
		return TargetCommand, true
	case "tracking":
		return TargetTracking, true
	default:
		return 0, false
	}
}

type typeInfo struct {
	name    string
	tier    Tier
	targets Targets
}

const (
	fullSet     = Targets(TargetRefresh | TargetCommand | TargetTracking)
	refreshSet  = Targets(TargetRefresh | TargetTracking)
	trackingSet = Targets(TargetTracking)
)

var typeTable = [numTypes]typeInfo{
	TypeUnknown:          {name: "unknown", tier: TierTracking},
	TypeContentReplaced:  {name: "full-content-replaced", tier: TierFullExtract, targets: fullSet},
	TypeWindowChanged:    {name: "window-changed", tier: TierReextract, targets: fullSet},
	TypeElementActivated: {name: "element-activated", tier: TierPartialRefresh, targets: refreshSet},
	TypeElementFocused:   {name: "element-focused", tier: TierTracking, targets: trackingSet},
	TypeTextChanged:      {name: "text-changed", tier: TierTracking, targets: trackingSet},
	TypeScrolled:         {name: "scrolled", tier: TierTracking, targets: trackingSet},
}

// Types returns every known type (excluding TypeUnknown), in tier order.
func Types() []Type {
	out := make([]Type, 0, NumTypes-1)
	for t := TypeUnknown + 1; t < numTypes; t++ {
		out = append(out, t)
	}
	return out
}

// Valid reports whether t is one of the six known kinds.
func (t Type) Valid() bool { return t > TypeUnknown && t < numTypes }

func (t Type) String() string {
	if t >= numTypes {
		return typeTable[TypeUnknown].name
	}
	return typeTable[t].name
}

// Tier returns the static priority tier. Unknown kinds get the lowest tier.
func (t Type) Tier() Tier {
	if !t.Valid() {
		return TierTracking
	}
	return typeTable[t].tier
}

// Targets returns the consumer roles a notification of this kind is routed to.
func (t Type) Targets() Targets {
	if !t.Valid() {
		return 0
	}
	return typeTable[t].targets
}

// ParseType maps the wire/config name of a kind to a Type.
// Unrecognized names yield TypeUnknown and false.
func ParseType(s string) (Type, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t := TypeUnknown + 1; t < numTypes; t++ {
		if typeTable[t].name == s {
			return t, true
		}
	}
	return TypeUnknown, false
}

// Raw is the notification as delivered by the instrumentation source.
type Raw struct {
	Type    Type
	Package string
	Class   string
	At      time.Time
}

// Notification is a classified, ephemeral notification.
type Notification struct {
	Type    Type
	Package string
	Class   string
	At      time.Time
	Tier    Tier
	Key     string

	// Seq is the enqueue sequence number, assigned by the queue.
	Seq uint64
}

// Classify attaches the priority tier and identity key. It has no side effects.
func Classify(r Raw) Notification {
	return Notification{
		Type:    r.Type,
		Package: r.Package,
		Class:   r.Class,
		At:      r.At,
		Tier:    r.Type.Tier(),
		Key:     IdentityKey(r.Package, r.Class, r.Type),
	}
}

// IdentityKey is package + "-" + class + "-" + type.
func IdentityKey(pkg, class string, t Type) string {
	name := t.String()
	var b strings.Builder
	b.Grow(len(pkg) + len(class) + len(name) + 2)
	b.WriteString(pkg)
	b.WriteByte('-')
	b.WriteString(class)
	b.WriteByte('-')
	b.WriteString(name)
	return b.String()
}
