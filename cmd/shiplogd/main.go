package main

import (
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.shiplog.dev/core/codecs"
	"go.shiplog.dev/core/engine"
	mbp "go.shiplog.dev/core/mainboilerplate"
	"go.shiplog.dev/core/placement"
	"go.shiplog.dev/core/shipper"
	"go.shiplog.dev/core/stores"
	"go.shiplog.dev/core/stores/azure"
	"go.shiplog.dev/core/stores/fs"
	"go.shiplog.dev/core/stores/gcs"
	"go.shiplog.dev/core/stores/minio"
	"go.shiplog.dev/core/stores/s3"
	"golang.org/x/time/rate"
)

const iniFilename = "shiplog.ini"

// Config is the top-level configuration object of shiplogd.
var Config = new(struct {
	Shiplog struct {
		DB        string `long:"db" env:"DB" description:"Path of the SQLite database"`
		DBID      string `long:"db-id" env:"DB_ID" description:"ID of the database within write archives. Defaults to the database file name"`
		Placement string `long:"placement" env:"PLACEMENT" default:"txn" choice:"txn" choice:"event" description:"Placement policy of log files"`
		Seq       int64  `long:"seq" env:"SEQ" default:"0" description:"Log segment into which transactions are published"`
	} `group:"Shiplog" namespace:"shiplog" env-namespace:"SHIPLOG"`

	Ship struct {
		Stores    []string      `long:"store" env:"STORES" env-delim:"," description:"Write archive endpoint, such as s3://bucket/prefix/. Repeat for each destination"`
		Codec     string        `long:"codec" env:"CODEC" default:"gzip" choice:"none" choice:"gzip" choice:"snappy" choice:"zstd" description:"Compression of shipped files"`
		Interval  time.Duration `long:"interval" env:"INTERVAL" default:"10s" description:"Interval between scans for published files"`
		Rate      float64       `long:"rate" env:"RATE" default:"0" description:"Per-destination ship attempts per second. Zero is unlimited"`
		Burst     int           `long:"burst" env:"BURST" default:"1" description:"Per-destination burst of ship attempts"`
		Namespace string        `long:"namespace" env:"NAMESPACE" description:"Sub-directory of each store under which files are shipped. Defaults to the database ID. Use \"/\" to ship directly beneath the store prefix"`
		MemoSize  int           `long:"memo-size" env:"MEMO_SIZE" default:"4096" description:"Per-destination number of remembered shipped files"`
	} `group:"Ship" namespace:"ship" env-namespace:"SHIP"`

	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
})

func mustPlacer() placement.Placer {
	var p, err = placement.New(Config.Shiplog.Placement)
	mbp.Must(err, "invalid placement")
	return p
}

func mustDBPath() string {
	if Config.Shiplog.DB == "" {
		mbp.Must(errors.New("--shiplog.db is required"), "invalid configuration")
	}
	return Config.Shiplog.DB
}

// databaseID returns the configured database ID, or the default of |dbPath|.
func databaseID(dbPath string) string {
	if Config.Shiplog.DBID != "" {
		return Config.Shiplog.DBID
	}
	return engine.DefaultDatabaseID(dbPath)
}

// archiveNamespace returns the Namespace of shipped files of database |dbID|.
func archiveNamespace(dbID string) string {
	switch Config.Ship.Namespace {
	case "":
		return dbID
	case "/":
		return ""
	default:
		return Config.Ship.Namespace
	}
}

func shipperConfig() shipper.Config {
	return shipper.Config{
		Interval: Config.Ship.Interval,
		Limit:    rate.Limit(Config.Ship.Rate),
		Burst:    Config.Ship.Burst,
		MemoSize: Config.Ship.MemoSize,
	}
}

// mustArchivers returns a StoreArchiver of each configured store endpoint,
// which archives files of database |dbID|.
func mustArchivers(localFs afero.Fs, dbID string) []*shipper.StoreArchiver {
	stores.RegisterProviders(map[string]stores.Constructor{
		"azure":    azure.NewAccount,
		"azure-ad": azure.NewAD,
		"file":     fs.New,
		"gs":       gcs.New,
		"memory":   stores.NewMemory,
		"minio":    minio.New,
		"s3":       s3.New,
	})

	var codec = codecs.Codec(Config.Ship.Codec)
	mbp.Must(codec.Validate(), "invalid codec")

	var out []*shipper.StoreArchiver
	for _, ep := range Config.Ship.Stores {
		var store, err = stores.Get(stores.Endpoint(ep))
		mbp.Must(err, "failed to build store", "endpoint", ep)
		var a = shipper.NewStoreArchiver(localFs, store, codec)
		a.Namespace = archiveNamespace(dbID)
		out = append(out, a)
	}
	return out
}

func main() {
	var parser = flags.NewParser(Config, flags.Default)

	_, _ = parser.AddCommand("serve", "Serve the shiplog of a database", `
Serve the shiplog of a database until signaled to exit (via SIGTERM or SIGINT).
The database lock is held while serving. Staging files left by a prior process
are resolved at startup, and published transaction files are shipped to each
configured store, then removed locally.
`, &cmdServe{})

	_, _ = parser.AddCommand("status", "List published files awaiting shipment", `
List published transaction files of the database which have not yet been
cleaned, and whether each configured store already holds them.
`, &cmdStatus{})

	_, _ = parser.AddCommand("replay", "Print the statements of shipped or published files", `
Decode each transaction file given as an argument, and print its statements
in log order. Compressed files are decoded according to their extension.
`, &cmdReplay{})

	mbp.AddPrintConfigCmd(parser, iniFilename)
	mbp.MustParseConfig(parser, iniFilename)
}
