// Package mainboilerplate contains shared boilerplate of shiplog programs:
// configuration parsing, logging, and diagnostics.
package mainboilerplate

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

// Version and BuildDate are populated at build time via -ldflags.
var (
	Version   = "development"
	BuildDate = "unknown"
)

// ConfigFileEnv names an INI file which must exist, and which is parsed
// in place of searching for one.
const ConfigFileEnv = "SHIPLOG_CONFIG"

// MustParseConfig parses the combination of an INI file, environment
// bindings, and flags into the Parser, in increasing precedence. The INI
// file is $SHIPLOG_CONFIG if set. Otherwise the first of these holding
// |configName| is used, if any:
//   - The current working directory.
//   - ~/.config/shiplog
//   - $SHIPLOG_CONFIG_ROOT
func MustParseConfig(parser *flags.Parser, configName string) {
	if err := parseIniConfig(parser, configPaths(configName), os.Getenv(ConfigFileEnv)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	MustParseArgs(parser)
}

// parseIniConfig parses |explicit| if non-empty, or else the first of
// |candidates| which exists. Options the INI file names but the Parser
// doesn't know, such as those of another command, are ignored.
func parseIniConfig(parser *flags.Parser, candidates []string, explicit string) error {
	var origOptions = parser.Options
	parser.Options |= flags.IgnoreUnknown
	defer func() { parser.Options = origOptions }()

	var ini = flags.NewIniParser(parser)

	if explicit != "" {
		return errors.WithMessagef(ini.ParseFile(explicit), "parsing %s", explicit)
	}
	for _, path := range candidates {
		if err := ini.ParseFile(path); os.IsNotExist(err) {
			continue
		} else {
			return errors.WithMessagef(err, "parsing %s", path)
		}
	}
	return nil
}

func configPaths(configName string) []string {
	var out = []string{
		configName,
		filepath.Join(os.Getenv("HOME"), ".config", "shiplog", configName),
	}
	if root := os.Getenv("SHIPLOG_CONFIG_ROOT"); root != "" {
		out = append(out, filepath.Join(root, configName))
	}
	return out
}

// MustParseArgs parses command-line arguments into the Parser, exiting on
// any input error. Errors in the configuration struct itself panic.
func MustParseArgs(parser *flags.Parser) {
	var _, err = parser.ParseArgs(os.Args[1:])
	if err == nil {
		return
	}
	var flagErr, ok = err.(*flags.Error)
	if !ok {
		Must(err, "fatal error")
	}

	switch flagErr.Type {
	case flags.ErrDuplicatedFlag, flags.ErrTag, flags.ErrInvalidTag, flags.ErrShortNameTooLong, flags.ErrMarshal:
		panic(err)
	case flags.ErrCommandRequired:
		os.Stderr.WriteString("\n")
		writeUsage(parser)
	case flags.ErrHelp:
		if parser.Options&flags.PrintErrors == 0 {
			writeUsage(parser)
		}
	}
	// Otherwise, go-flags has already printed the error.
	os.Exit(1)
}

func writeUsage(parser *flags.Parser) {
	parser.WriteHelp(os.Stderr)
	fmt.Fprintf(os.Stderr, "\nshiplog %s, built %s.\n", Version, BuildDate)
}

// AddPrintConfigCmd adds a "print-config" command to the Parser, which
// writes the combined configuration in INI format and exits.
func AddPrintConfigCmd(parser *flags.Parser, configName string) {
	_, _ = parser.AddCommand("print-config", "Print combined configuration and exit", `
Parse the combined configuration of `+configName+` (or $`+ConfigFileEnv+`),
environment variables, and flags, and write it to stdout in INI format.
The output is itself a valid `+configName+`.
`, &printConfig{parser})
}

type printConfig struct {
	*flags.Parser `no-flag:"t"`
}

func (p printConfig) Execute([]string) error {
	flags.NewIniParser(p.Parser).Write(os.Stdout,
		flags.IniIncludeComments|flags.IniCommentDefaults|flags.IniIncludeDefaults)
	return nil
}
