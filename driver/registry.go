package driver

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Opener builds a Connector from the data-source part of a connection string.
type Opener func(connStr, dsn string) (Connector, error)

var (
	openersMu sync.RWMutex
	openers   = make(map[string]Opener)
)

// Register makes an Opener available under the given connection string scheme.
// Registering the same scheme twice replaces the earlier opener.
func Register(scheme string, opener Opener) {
	if opener == nil {
		panic("driver: Register opener is nil")
	}

	openersMu.Lock()
	defer openersMu.Unlock()
	openers[strings.ToLower(scheme)] = opener
}

// Schemes returns the registered schemes in sorted order.
func Schemes() []string {
	openersMu.RLock()
	defer openersMu.RUnlock()

	schemes := make([]string, 0, len(openers))
	for scheme := range openers {
		schemes = append(schemes, scheme)
	}
	sort.Strings(schemes)
	return schemes
}

// SplitConnString splits "scheme://dsn" into its scheme and data source.
func SplitConnString(connStr string) (scheme, dsn string, err error) {
	idx := strings.Index(connStr, "://")
	if idx <= 0 {
		return "", "", fmt.Errorf("connection string must have the form scheme://dsn")
	}
	return strings.ToLower(connStr[:idx]), connStr[idx+3:], nil
}

// Open resolves a connection string to a Connector through the registered openers.
func Open(connStr string) (Connector, error) {
	scheme, dsn, err := SplitConnString(connStr)
	if err != nil {
		return nil, err
	}

	openersMu.RLock()
	opener, ok := openers[scheme]
	openersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no driver registered for scheme %q (registered: %s)", scheme, strings.Join(Schemes(), ", "))
	}

	return opener(connStr, dsn)
}

func normalizeLevel(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", " ")
	return strings.Join(strings.Fields(s), " ")
}
