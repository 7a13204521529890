package common

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/gorilla/schema"
)

// LayoutConfig places shipped files beneath an optional sub-directory of
// the archive prefix. It allows many hosts to share one bucket prefix
// while keeping their archives apart:
//
//	var cfg = LayoutConfig{Subdir: "host-a"}
//	cfg.Key("logs/", "00000003-00000005.txn.gz") // "logs/host-a/00000003-00000005.txn.gz"
type LayoutConfig struct {
	// Subdir is joined between the archive prefix and each file name.
	Subdir string
}

// Key returns the object key of |name| under archive prefix |prefix|.
func (cfg LayoutConfig) Key(prefix, name string) string {
	if cfg.Subdir == "" {
		return prefix + name
	}
	return prefix + path.Join(strings.Trim(cfg.Subdir, "/"), name)
}

// ParseStoreArgs decodes the query arguments of |ep| into |args|, which
// must be a pointer to a struct. Unknown arguments are an error.
func ParseStoreArgs(ep *url.URL, args interface{}) error {
	var decoder = schema.NewDecoder()
	decoder.IgnoreUnknownKeys(false)

	if q, err := url.ParseQuery(ep.RawQuery); err != nil {
		return err
	} else if err = decoder.Decode(args, q); err != nil {
		return fmt.Errorf("parsing store URL arguments: %s", err)
	}
	return nil
}
