package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPath indicates a malformed preference path.
var ErrInvalidPath = errors.New("prefs: invalid path")

// Document is the user preference document. Known categories are typed;
// unknown fields round-trip through the Extra maps so newer backends can add
// fields without breaking older clients. Pointer fields distinguish "unset"
// from a zero value, which keeps the serialized form sparse and lets merges
// stay additive.
type Document struct {
	UI            UISettings
	DataDisplay   DataDisplaySettings
	Notifications NotificationSettings
	Cache         CacheSettings
	Extra         map[string]any
}

// UISettings controls appearance and layout.
type UISettings struct {
	Theme            *string        `json:"theme,omitempty"`
	Language         *string        `json:"language,omitempty"`
	Density          *string        `json:"density,omitempty"`
	SidebarCollapsed *bool          `json:"sidebarCollapsed,omitempty"`
	Extra            map[string]any `json:"-"`
}

// DataDisplaySettings controls how listings and reports render.
type DataDisplaySettings struct {
	PageSize   *int           `json:"pageSize,omitempty"`
	DateFormat *string        `json:"dateFormat,omitempty"`
	Timezone   *string        `json:"timezone,omitempty"`
	Currency   *string        `json:"currency,omitempty"`
	Extra      map[string]any `json:"-"`
}

// NotificationSettings controls alert delivery.
type NotificationSettings struct {
	Email        *bool          `json:"email,omitempty"`
	Push         *bool          `json:"push,omitempty"`
	SalesAlerts  *bool          `json:"salesAlerts,omitempty"`
	LowInventory *bool          `json:"lowInventory,omitempty"`
	Extra        map[string]any `json:"-"`
}

// CacheSettings controls client-side caching behavior.
type CacheSettings struct {
	Enabled    *bool          `json:"enabled,omitempty"`
	TTLSeconds *int           `json:"ttlSeconds,omitempty"`
	Extra      map[string]any `json:"-"`
}

// String returns a pointer to s, for populating optional fields.
func String(s string) *string { return &s }

// Bool returns a pointer to b, for populating optional fields.
func Bool(b bool) *bool { return &b }

// Int returns a pointer to i, for populating optional fields.
func Int(i int) *int { return &i }

// marshalWithExtra serializes alias and folds in extra keys that the typed
// fields do not already claim.
func marshalWithExtra(alias any, extra map[string]any) ([]byte, error) {
	base, err := json.Marshal(alias)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return base, nil
	}
	var m map[string]any
	if err := json.Unmarshal(base, &m); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, ok := m[k]; !ok {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

// splitExtra returns the keys of data that are not in the known set, or nil
// if every key is accounted for.
func splitExtra(data []byte, known ...string) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(m, k)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

// MarshalJSON implements json.Marshaler.
func (u UISettings) MarshalJSON() ([]byte, error) {
	type alias UISettings
	return marshalWithExtra(alias(u), u.Extra)
}

// UnmarshalJSON implements json.Unmarshaler.
func (u *UISettings) UnmarshalJSON(data []byte) error {
	type alias UISettings
	if err := json.Unmarshal(data, (*alias)(u)); err != nil {
		return err
	}
	extra, err := splitExtra(data, "theme", "language", "density", "sidebarCollapsed")
	if err != nil {
		return err
	}
	u.Extra = extra
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d DataDisplaySettings) MarshalJSON() ([]byte, error) {
	type alias DataDisplaySettings
	return marshalWithExtra(alias(d), d.Extra)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *DataDisplaySettings) UnmarshalJSON(data []byte) error {
	type alias DataDisplaySettings
	if err := json.Unmarshal(data, (*alias)(d)); err != nil {
		return err
	}
	extra, err := splitExtra(data, "pageSize", "dateFormat", "timezone", "currency")
	if err != nil {
		return err
	}
	d.Extra = extra
	return nil
}

// MarshalJSON implements json.Marshaler.
func (n NotificationSettings) MarshalJSON() ([]byte, error) {
	type alias NotificationSettings
	return marshalWithExtra(alias(n), n.Extra)
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *NotificationSettings) UnmarshalJSON(data []byte) error {
	type alias NotificationSettings
	if err := json.Unmarshal(data, (*alias)(n)); err != nil {
		return err
	}
	extra, err := splitExtra(data, "email", "push", "salesAlerts", "lowInventory")
	if err != nil {
		return err
	}
	n.Extra = extra
	return nil
}

// MarshalJSON implements json.Marshaler.
func (c CacheSettings) MarshalJSON() ([]byte, error) {
	type alias CacheSettings
	return marshalWithExtra(alias(c), c.Extra)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *CacheSettings) UnmarshalJSON(data []byte) error {
	type alias CacheSettings
	if err := json.Unmarshal(data, (*alias)(c)); err != nil {
		return err
	}
	extra, err := splitExtra(data, "enabled", "ttlSeconds")
	if err != nil {
		return err
	}
	c.Extra = extra
	return nil
}

// MarshalJSON implements json.Marshaler. Empty categories are omitted so the
// serialized document stays sparse.
func (d Document) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, 4+len(d.Extra))
	categories := []struct {
		key   string
		value any
	}{
		{"ui", d.UI},
		{"dataDisplay", d.DataDisplay},
		{"notifications", d.Notifications},
		{"cache", d.Cache},
	}
	for _, c := range categories {
		b, err := json.Marshal(c.value)
		if err != nil {
			return nil, err
		}
		if string(b) != "{}" {
			m[c.key] = json.RawMessage(b)
		}
	}
	for k, v := range d.Extra {
		if _, ok := m[k]; !ok {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Document) UnmarshalJSON(data []byte) error {
	type alias struct {
		UI            UISettings           `json:"ui"`
		DataDisplay   DataDisplaySettings  `json:"dataDisplay"`
		Notifications NotificationSettings `json:"notifications"`
		Cache         CacheSettings        `json:"cache"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	extra, err := splitExtra(data, "ui", "dataDisplay", "notifications", "cache")
	if err != nil {
		return err
	}
	*d = Document{
		UI:            a.UI,
		DataDisplay:   a.DataDisplay,
		Notifications: a.Notifications,
		Cache:         a.Cache,
		Extra:         extra,
	}
	return nil
}

// Lookup resolves a dot-joined path like "ui.theme" against the document.
func (d Document) Lookup(path string) (any, bool) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, false
	}
	m, err := d.toMap()
	if err != nil {
		return nil, false
	}
	return getPath(m, parts)
}

// toMap produces the generic object form used for path writes and merging.
func (d Document) toMap() (map[string]any, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// fromMap replaces the document with the decoded form of m. Known fields with
// the wrong JSON type fail here, which is where type enforcement happens.
func (d *Document) fromMap(m map[string]any) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, d)
}

// splitPath parses a dot-joined path. Empty paths and empty segments are
// rejected.
func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return parts, nil
}

// getPath walks m along parts and returns the value at the leaf.
func getPath(m map[string]any, parts []string) (any, bool) {
	for _, part := range parts[:len(parts)-1] {
		child, ok := m[part].(map[string]any)
		if !ok {
			return nil, false
		}
		m = child
	}
	v, ok := m[parts[len(parts)-1]]
	return v, ok
}

// setPath writes value at the leaf, creating intermediate objects as needed.
// A non-object intermediate is replaced.
func setPath(m map[string]any, parts []string, value any) {
	for _, part := range parts[:len(parts)-1] {
		child, ok := m[part].(map[string]any)
		if !ok {
			child = make(map[string]any)
			m[part] = child
		}
		m = child
	}
	m[parts[len(parts)-1]] = value
}

// removePath deletes the leaf at parts. Returns whether anything was removed.
func removePath(m map[string]any, parts []string) bool {
	for _, part := range parts[:len(parts)-1] {
		child, ok := m[part].(map[string]any)
		if !ok {
			return false
		}
		m = child
	}
	leaf := parts[len(parts)-1]
	if _, ok := m[leaf]; !ok {
		return false
	}
	delete(m, leaf)
	return true
}

// deepMerge merges source into target recursively. Source wins at each leaf;
// arrays and primitives are replaced wholesale, never concatenated. Neither
// input is mutated.
func deepMerge(target, source map[string]any) map[string]any {
	out := make(map[string]any, len(target)+len(source))
	for k, v := range target {
		out[k] = v
	}
	for k, sv := range source {
		if sm, ok := sv.(map[string]any); ok {
			if tm, ok := out[k].(map[string]any); ok {
				out[k] = deepMerge(tm, sm)
				continue
			}
		}
		out[k] = sv
	}
	return out
}
