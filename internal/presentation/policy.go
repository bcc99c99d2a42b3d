// Package presentation derives the main stage / sidebar view from a
// directory snapshot. Everything here is pure.
package presentation

import (
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/cwrk-planet/session-recorder/internal/domain"
)

// MaxOthers — сколько участников показывается в малом списке.
const MaxOthers = 5

// Policy selects how the main stage falls back when no host is present.
type Policy int

const (
	// HostOnly leaves the stage empty until a host is present.
	HostOnly Policy = iota
	// Fallback walks host, coHost, then anyone with media.
	Fallback
)

func (p Policy) String() string {
	if p == Fallback {
		return "fallback"
	}
	return "host-only"
}

func ParsePolicy(s string) Policy {
	if s == "fallback" {
		return Fallback
	}
	return HostOnly
}

type Layout struct {
	MainWidth    int `json:"main_width"`
	SidebarWidth int `json:"sidebar_width"`
}

type View struct {
	Main        *domain.Participant
	CoHostVideo []domain.Participant
	Others      []domain.Participant
	Remaining   int
	Layout      Layout
	Total       int
}

// Waiting is true when the stage is empty.
func (v View) Waiting() bool { return v.Main == nil }

func Derive(snapshot []domain.Participant, policy Policy) View {
	present := lo.Reject(snapshot, func(p domain.Participant, _ int) bool { return p.IsRecorder })

	hosts := lo.Filter(present, func(p domain.Participant, _ int) bool { return p.Role == domain.RoleHost })
	coHostVideo := lo.Filter(present, func(p domain.Participant, _ int) bool {
		return p.Role == domain.RoleCoHost && p.HasVideo()
	})
	others := lo.Filter(present, func(p domain.Participant, _ int) bool {
		return p.Role != domain.RoleHost && !(p.Role == domain.RoleCoHost && p.HasVideo())
	})
	SortByActivity(others)

	shown := others
	if len(shown) > MaxOthers {
		shown = shown[:MaxOthers]
	}

	v := View{
		CoHostVideo: coHostVideo,
		Others:      slices.Clone(shown),
		Remaining:   len(others) - len(shown),
		Layout:      layoutFor(len(coHostVideo) > 0),
		Total:       len(present),
	}

	var main *domain.Participant
	switch policy {
	case Fallback:
		main = fallbackStage(present)
	default:
		main = hostStage(hosts)
	}
	if main != nil {
		m := *main
		v.Main = &m
	}
	return v
}

// SortByActivity orders speakers first, then by most recent speech. Ties keep
// directory order.
func SortByActivity(ps []domain.Participant) {
	slices.SortStableFunc(ps, func(a, b domain.Participant) int {
		if a.Speaking != b.Speaking {
			if a.Speaking {
				return -1
			}
			return 1
		}
		return b.LastSpokeAt.Compare(a.LastSpokeAt)
	})
}

func hostStage(hosts []domain.Participant) *domain.Participant {
	return firstOf(hosts,
		func(p domain.Participant) bool { return p.HasVideo() && p.HasAudio() },
		func(p domain.Participant) bool { return p.HasVideo() },
		func(p domain.Participant) bool { return p.HasAudio() },
		func(domain.Participant) bool { return true },
	)
}

func fallbackStage(all []domain.Participant) *domain.Participant {
	role := func(r domain.Role, pred func(domain.Participant) bool) func(domain.Participant) bool {
		return func(p domain.Participant) bool { return p.Role == r && pred(p) }
	}
	av := func(p domain.Participant) bool { return p.HasVideo() && p.HasAudio() }
	v := func(p domain.Participant) bool { return p.HasVideo() }
	a := func(p domain.Participant) bool { return p.HasAudio() }
	anyone := func(domain.Participant) bool { return true }

	return firstOf(all,
		role(domain.RoleHost, av), role(domain.RoleHost, v), role(domain.RoleHost, a),
		role(domain.RoleCoHost, av), role(domain.RoleCoHost, v), role(domain.RoleCoHost, a),
		role(domain.RoleHost, anyone), role(domain.RoleCoHost, anyone),
		v, a, anyone,
	)
}

func firstOf(ps []domain.Participant, preds ...func(domain.Participant) bool) *domain.Participant {
	for _, pred := range preds {
		if p, ok := lo.Find(ps, pred); ok {
			return &p
		}
	}
	return nil
}

func layoutFor(hasCoHostVideo bool) Layout {
	if hasCoHostVideo {
		return Layout{MainWidth: 80, SidebarWidth: 20}
	}
	return Layout{MainWidth: 90, SidebarWidth: 10}
}

// Initials builds the avatar label of the sidebar list.
func Initials(name string) string {
	var out []rune
	for _, w := range strings.Fields(name) {
		out = append(out, []rune(w)[0])
		if len(out) == 2 {
			break
		}
	}
	return strings.ToUpper(string(out))
}
