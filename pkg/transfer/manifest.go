package transfer

import (
	"bytes"
	"encoding/json"
	"io"
	"sort"
)

// envelopeKey is the top-level section written by the original manifest
// generators. Manifests without it are read as a bare method mapping.
const envelopeKey = "HTTPAsyncData"

// Manifest is the method -> URL -> local path description of one run.
type Manifest struct {
	Groups map[Method]map[string]string

	// Username and Password are optional credentials carried by the manifest.
	Username string
	Password string
}

// ParseManifest reads a JSON manifest. Both the enveloped form
//
//	{"HTTPAsyncData": {"PUT": {"http://x/a": "/tmp/a"}, "username": "u"}}
//
// and the bare form {"PUT": {...}} are accepted.
func ParseManifest(r io.Reader) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &ManifestError{Reason: "read", Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ManifestError{Reason: "empty document"}
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, &ManifestError{Reason: "not a JSON object", Err: err}
	}
	if env, ok := top[envelopeKey]; ok {
		top = nil
		if err := json.Unmarshal(env, &top); err != nil {
			return nil, &ManifestError{Reason: envelopeKey + " is not an object", Err: err}
		}
	}

	m := &Manifest{Groups: make(map[Method]map[string]string)}
	for key, raw := range top {
		switch key {
		case "username":
			if err := json.Unmarshal(raw, &m.Username); err != nil {
				return nil, &ManifestError{Reason: "username is not a string", Err: err}
			}
			continue
		case "password":
			if err := json.Unmarshal(raw, &m.Password); err != nil {
				return nil, &ManifestError{Reason: "password is not a string", Err: err}
			}
			continue
		}

		method, err := ParseMethod(key)
		if err != nil {
			return nil, &ManifestError{Reason: "bad method group " + key, Err: err}
		}
		var urls map[string]string
		if err := json.Unmarshal(raw, &urls); err != nil {
			return nil, &ManifestError{Reason: "group " + key + " is not a URL to path mapping", Err: err}
		}
		if m.Groups[method] == nil {
			m.Groups[method] = make(map[string]string, len(urls))
		}
		for u, p := range urls {
			if u == "" {
				return nil, &ManifestError{Reason: "empty URL in group " + key}
			}
			m.Groups[method][u] = p
		}
	}

	if len(m.Groups) == 0 {
		return nil, &ManifestError{Reason: "no method groups"}
	}
	return m, nil
}

// Methods returns the manifest's methods in a stable order.
func (m *Manifest) Methods() []Method {
	out := make([]Method, 0, len(m.Groups))
	for method := range m.Groups {
		out = append(out, method)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Items returns one new item per entry, ordered by method then URL.
func (m *Manifest) Items() []*Item {
	var items []*Item
	for _, method := range m.Methods() {
		urls := make([]string, 0, len(m.Groups[method]))
		for u := range m.Groups[method] {
			urls = append(urls, u)
		}
		sort.Strings(urls)
		for _, u := range urls {
			items = append(items, NewItem(method, u, m.Groups[method][u]))
		}
	}
	return items
}

// GroupByMethod splits items by method, keeping their relative order.
func GroupByMethod(items []*Item) map[Method][]*Item {
	out := make(map[Method][]*Item)
	for _, it := range items {
		out[it.Method] = append(out[it.Method], it)
	}
	return out
}

// SortedMethods returns the keys of a grouping in a stable order.
func SortedMethods(groups map[Method][]*Item) []Method {
	out := make([]Method, 0, len(groups))
	for method := range groups {
		out = append(out, method)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
