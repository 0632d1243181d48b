package httpx

import "strings"

// maxTraceStateMembers is the W3C limit on list-members in tracestate.
const maxTraceStateMembers = 32

type traceMember struct{ key, value string }

// TraceState is a parsed W3C tracestate list, most recent vendor first.
type TraceState struct {
	members []traceMember
}

// ParseTraceState keeps the valid members of v and drops the rest,
// including duplicates of an earlier key.
func ParseTraceState(v string) TraceState {
	var ts TraceState
	for _, part := range strings.Split(v, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		val = strings.TrimSpace(val)
		if !validTraceKey(k) || !validTraceValue(val) || ts.index(k) >= 0 {
			continue
		}
		ts.members = append(ts.members, traceMember{k, val})
		if len(ts.members) == maxTraceStateMembers {
			break
		}
	}
	return ts
}

// Set moves key to the front with value. It reports false for an invalid
// key or value and leaves ts unchanged.
func (ts *TraceState) Set(key, value string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	value = strings.TrimSpace(value)
	if !validTraceKey(key) || !validTraceValue(value) {
		return false
	}
	if i := ts.index(key); i >= 0 {
		ts.members = append(ts.members[:i], ts.members[i+1:]...)
	}
	ts.members = append([]traceMember{{key, value}}, ts.members...)
	if len(ts.members) > maxTraceStateMembers {
		ts.members = ts.members[:maxTraceStateMembers]
	}
	return true
}

func (ts TraceState) Get(key string) (string, bool) {
	if i := ts.index(strings.ToLower(key)); i >= 0 {
		return ts.members[i].value, true
	}
	return "", false
}

func (ts TraceState) Len() int { return len(ts.members) }

// String renders the header value; empty when there are no members.
func (ts TraceState) String() string {
	var sb strings.Builder
	for i, m := range ts.members {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(m.key)
		sb.WriteByte('=')
		sb.WriteString(m.value)
	}
	return sb.String()
}

func (ts TraceState) index(key string) int {
	for i, m := range ts.members {
		if m.key == key {
			return i
		}
	}
	return -1
}

// validTraceKey accepts "key" or "tenant@system" made of lower-case
// letters, digits and _-*/.
func validTraceKey(k string) bool {
	if k == "" || len(k) > 256 {
		return false
	}
	parts := strings.Split(k, "@")
	if len(parts) > 2 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		for i := 0; i < len(p); i++ {
			c := p[i]
			if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || strings.IndexByte("_-*/.", c) >= 0 {
				continue
			}
			return false
		}
	}
	return true
}

func validTraceValue(v string) bool {
	if v == "" || len(v) > 256 {
		return false
	}
	for i := 0; i < len(v); i++ {
		if c := v[i]; c < 0x20 || c > 0x7e || c == ',' || c == '=' {
			return false
		}
	}
	return true
}
