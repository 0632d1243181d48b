package httpx

import (
	"strings"

	"dqx0.com/go/httpclient/httpx/internal/http1"
)

// HeaderField is a single name/value pair.
type HeaderField = http1.Field

// Header is an ordered list of fields. Names compare case-insensitively,
// keep the spelling they were added with, and may repeat.
type Header []HeaderField

// Get returns the first value for key.
func (h Header) Get(key string) string {
	for _, f := range h {
		if strings.EqualFold(f.Name, key) {
			return f.Value
		}
	}
	return ""
}

// Values returns all values for key in order.
func (h Header) Values(key string) []string {
	var out []string
	for _, f := range h {
		if strings.EqualFold(f.Name, key) {
			out = append(out, f.Value)
		}
	}
	return out
}

// Len is the number of fields, duplicates included.
func (h Header) Len() int { return len(h) }

func (h Header) Has(key string) bool {
	for _, f := range h {
		if strings.EqualFold(f.Name, key) {
			return true
		}
	}
	return false
}

func (h *Header) Add(key, value string) {
	*h = append(*h, HeaderField{Name: key, Value: value})
}

// Set replaces every value for key with value, at the position of the
// first existing field, or appends it.
func (h *Header) Set(key, value string) {
	out := (*h)[:0]
	placed := false
	for _, f := range *h {
		if strings.EqualFold(f.Name, key) {
			if !placed {
				out = append(out, HeaderField{Name: key, Value: value})
				placed = true
			}
			continue
		}
		out = append(out, f)
	}
	if !placed {
		out = append(out, HeaderField{Name: key, Value: value})
	}
	*h = out
}

func (h *Header) Del(key string) {
	out := (*h)[:0]
	for _, f := range *h {
		if !strings.EqualFold(f.Name, key) {
			out = append(out, f)
		}
	}
	*h = out
}

func (h Header) Clone() Header {
	if h == nil {
		return nil
	}
	out := make(Header, len(h))
	copy(out, h)
	return out
}

// Merge returns a new header holding h with every name present in o
// replaced by o's values. Neither input is modified.
func (h Header) Merge(o Header) Header {
	out := make(Header, 0, len(h)+len(o))
	for _, f := range h {
		if !o.Has(f.Name) {
			out = append(out, f)
		}
	}
	return append(out, o...)
}

// fields exposes the header to the wire writer.
func (h Header) fields() []http1.Field {
	return []http1.Field(h)
}
