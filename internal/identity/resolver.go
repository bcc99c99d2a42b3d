// Package identity turns raw participant descriptors into a display name,
// a role and the synthetic (recording agent) flag.
package identity

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/cwrk-planet/session-recorder/internal/domain"
)

// MaxLiteralName — короткая не-JSON строка метаданных используется как имя.
const MaxLiteralName = 64

type Resolution struct {
	DisplayName string
	Role        domain.Role
	Synthetic   bool
}

// Resolve never fails: malformed metadata falls back to defaults.
func Resolve(info domain.ParticipantInfo) Resolution {
	md, parsed := parseMetadata(info.Metadata)
	return Resolution{
		DisplayName: displayName(info.Identity, info.Metadata, md, parsed),
		Role:        role(info.Attributes, md),
		Synthetic:   IsSynthetic(info),
	}
}

// DisplayName resolves the name shown for a participant.
func DisplayName(identity, metadata string) string {
	md, parsed := parseMetadata(metadata)
	return displayName(identity, metadata, md, parsed)
}

// RoleOf resolves the role: attributes first, then metadata, then participant.
func RoleOf(attributes map[string]string, metadata string) domain.Role {
	md, _ := parseMetadata(metadata)
	return role(attributes, md)
}

// parseMetadata returns the decoded object (nil when the payload is valid JSON
// but not an object) and whether the payload was valid JSON at all.
func parseMetadata(metadata string) (map[string]any, bool) {
	if metadata == "" {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(metadata), &v); err != nil {
		return nil, false
	}
	obj, _ := v.(map[string]any)
	return obj, true
}

func displayName(identity, raw string, md map[string]any, parsed bool) string {
	for _, key := range []string{"displayName", "name", "username"} {
		if s, ok := md[key].(string); ok && s != "" {
			return s
		}
	}
	if raw != "" && !parsed && utf8.RuneCountInString(raw) < MaxLiteralName {
		return raw
	}
	return identity
}

func role(attributes map[string]string, md map[string]any) domain.Role {
	if r, ok := domain.ParseRole(attributes["role"]); ok {
		return r
	}
	if s, ok := md["role"].(string); ok {
		if r, ok := domain.ParseRole(s); ok {
			return r
		}
	}
	return domain.RoleParticipant
}

var (
	identityFragments = []string{"egress-", "recorder-", "recording-"}
	identityPrefixes  = []string{"egress_", "recorder_"}
	metadataFragments = []string{`"egress"`, `"recorder"`}
)

// IsSynthetic reports recording/egress agents. Track counts are not a signal:
// a freshly joined human has none.
func IsSynthetic(info domain.ParticipantInfo) bool {
	if info.Agent {
		return true
	}
	id := strings.ToLower(info.Identity)
	for _, f := range identityFragments {
		if strings.Contains(id, f) {
			return true
		}
	}
	for _, p := range identityPrefixes {
		if strings.HasPrefix(id, p) {
			return true
		}
	}
	md := strings.ToLower(info.Metadata)
	for _, f := range metadataFragments {
		if strings.Contains(md, f) {
			return true
		}
	}
	return false
}
