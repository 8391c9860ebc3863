package keyspace

import (
	"strings"

	"github.com/samber/lo"
)

const globMeta = `*?[]\\`

// Codec maps logical key and channel names to their physical, prefixed form.
type Codec struct {
	prefix string
}

func NewCodec(prefix string) Codec {
	return Codec{prefix: prefix}
}

func (c Codec) Prefix() string {
	return c.prefix
}

func (c Codec) Encode(name string) string {
	return c.prefix + name
}

// EncodePattern prefixes a glob pattern. Glob metacharacters inside the
// prefix are escaped so they only match themselves.
func (c Codec) EncodePattern(pattern string) string {
	var sb strings.Builder
	sb.Grow(len(c.prefix) + len(pattern))
	for _, r := range c.prefix {
		if strings.ContainsRune(globMeta, r) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	sb.WriteString(pattern)
	return sb.String()
}

func (c Codec) EncodeAll(names []string) []string {
	return lo.Map(names, func(name string, _ int) string {
		return c.Encode(name)
	})
}

// Decode strips the prefix from the start of a physical name. Names that do
// not start with the prefix are returned unchanged.
func (c Codec) Decode(physical string) string {
	return strings.TrimPrefix(physical, c.prefix)
}

func (c Codec) DecodeAll(physical []string) []string {
	return lo.Map(physical, func(name string, _ int) string {
		return c.Decode(name)
	})
}
