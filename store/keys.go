package store

import (
	"fmt"
	"strings"

	"github.com/unkn0wn-root/offsync/internal/util"
)

// CompositeKey returns the durable key of key inside namespace ns.
func CompositeKey(ns, key string) string { return util.Composite(ns, key) }

// NamespacePrefix returns the prefix shared by every durable key of ns.
func NamespacePrefix(ns string) string { return util.Prefix(ns) }

// SplitKey strips the namespace prefix from composite. ok is false when
// composite does not belong to ns.
func SplitKey(ns, composite string) (key string, ok bool) {
	return strings.CutPrefix(composite, util.Prefix(ns))
}

// ValidNamespace rejects namespaces that would make composite keys ambiguous.
// "a" with key "b:c" and "a:b" with key "c" would both map to "a:b:c".
func ValidNamespace(ns string) error {
	if ns == "" {
		return fmt.Errorf("store: namespace is required")
	}
	if strings.Contains(ns, util.KeySep) {
		return fmt.Errorf("store: namespace %q must not contain %q", ns, util.KeySep)
	}
	return nil
}
