package canon

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Canonicalizer transforms raw upstream items into Rows. It is stateless
// and safe for concurrent use; a separate instance is created per job
// because the active Mode is fixed for the job's lifetime.
type Canonicalizer struct {
	mode Mode
}

func New(mode Mode) *Canonicalizer {
	return &Canonicalizer{mode: mode}
}

// Canonicalize implements §4.1. It never returns an error: missing or
// invalid fields degrade to empty derived values (B1), the caller is
// expected to tolerate that.
func (c *Canonicalizer) Canonicalize(item RawItem) Row {
	rawURL := extractURL(item.Data)
	name := c.extractName(item.Data, rawURL)

	host, etld1, brand, subCls, isVideo := hostInfo(rawURL)

	row := Row{
		RowID:           rowID(item),
		Name:            cleanName(name),
		URL:             strings.TrimSpace(rawURL),
		Host:            host,
		Etld1:           etld1,
		Brand:           brand,
		SubCls:          subCls,
		IsVideoPlatform: isVideo,
		Raw:             item,
	}
	if c.mode == ModeEntity {
		row.NormalizedTitle = normalizedTitle(row.Name)
	}
	return row
}

func rowID(item RawItem) string {
	if strings.TrimSpace(item.ID) != "" {
		return strings.TrimSpace(item.ID)
	}
	return uuid.NewString()
}

// extractURL implements §4.1's URL extraction priority: properties.url,
// top-level url, any nested {url|website} under properties.*, finally
// source if it looks like a URL.
func extractURL(data map[string]any) string {
	props, _ := data["properties"].(map[string]any)

	if v := stringField(props, "url"); v != "" {
		return v
	}
	if v := stringField(data, "url"); v != "" {
		return v
	}
	if v := nestedStringField(props, "url", "website"); v != "" {
		return v
	}
	if v := stringField(data, "source"); looksLikeURL(v) {
		return v
	}
	return ""
}

func (c *Canonicalizer) extractName(data map[string]any, fallbackURL string) string {
	props, _ := data["properties"].(map[string]any)

	var candidates []string
	switch c.mode {
	case ModeCompany:
		candidates = []string{
			stringField(data, "name"),
			stringField(data, "title"),
			stringField(props, "name"),
			stringField(props, "title"),
			nestedStringField(props, "company", "name"),
		}
	default: // ModeEntity
		candidates = []string{
			stringField(data, "title"),
			stringField(data, "name"),
			stringField(props, "title"),
			stringField(props, "name"),
		}
	}
	for _, v := range candidates {
		if v != "" {
			return v
		}
	}

	nestedKeys := []string{"name", "title"}
	if c.mode == ModeCompany {
		nestedKeys = append(nestedKeys, "company_name")
	}
	if v := nestedAnyObjectField(props, nestedKeys...); v != "" {
		return v
	}

	return domainSlugFallback(fallbackURL)
}

func domainSlugFallback(rawURL string) string {
	_, etld1, _, _, _ := hostInfo(rawURL)
	if etld1 == "" {
		return ""
	}
	return strings.TrimSuffix(etld1, "."+tldOf(etld1))
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	v, ok := m[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// nestedStringField looks for any of keys under any nested object value of m.
func nestedStringField(m map[string]any, keys ...string) string {
	if m == nil {
		return ""
	}
	for _, v := range m {
		nested, ok := v.(map[string]any)
		if !ok {
			continue
		}
		for _, key := range keys {
			if s := stringField(nested, key); s != "" {
				return s
			}
		}
	}
	return ""
}

func nestedAnyObjectField(m map[string]any, keys ...string) string {
	return nestedStringField(m, keys...)
}

func looksLikeURL(v string) bool {
	v = strings.TrimSpace(strings.ToLower(v))
	return strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://")
}

// String is a debug-friendly representation used in logs.
func (r Row) String() string {
	return fmt.Sprintf("Row{id=%s name=%q host=%s etld1=%s brand=%s subCls=%s video=%t}",
		r.RowID, r.Name, r.Host, r.Etld1, r.Brand, r.SubCls, r.IsVideoPlatform)
}
