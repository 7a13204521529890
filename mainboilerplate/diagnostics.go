package mainboilerplate

import (
	_ "expvar" // Import for /debug/vars
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" // Import for /debug/pprof
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// DiagnosticsConfig configures pull-based application metrics, debugging and diagnostics.
type DiagnosticsConfig struct {
	Address string `long:"address" env:"ADDRESS" description:"Address at which to serve /debug/ready, /debug/metrics, and /debug/pprof. Disabled if empty"`
}

// InitDiagnosticsAndRecover serves metrics and debugging services registered
// on the default HTTPMux, if an Address is configured. It returns a closure
// which should be deferred, and which recovers a panic to write a termination
// message before re-panicking.
func InitDiagnosticsAndRecover(cfg DiagnosticsConfig) func() {
	http.HandleFunc("/debug/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	http.Handle("/debug/metrics", promhttp.Handler())

	if cfg.Address != "" {
		var ln, err = net.Listen("tcp", cfg.Address)
		Must(err, "failed to listen for diagnostics", "address", cfg.Address)

		go func() {
			if err := http.Serve(ln, nil); err != nil {
				log.WithField("err", err).Warn("diagnostics server stopped")
			}
		}()
		log.WithField("address", ln.Addr().String()).Info("serving diagnostics")
	}

	return func() {
		if r := recover(); r != nil {
			// Best effort.
			if f, err := os.OpenFile(terminationLog, os.O_WRONLY, 0777); err == nil {
				fmt.Fprintf(f, "%+v", r)
				f.Close()
			}
			panic(r)
		}
	}
}

// Must panics if |err| is non-nil, supplying |msg| and |extra| as
// formatter and fields of the generated panic.
func Must(err error, msg string, extra ...interface{}) {
	if err == nil {
		return
	}
	var f = log.Fields{"err": err}
	for i := 0; i+1 < len(extra); i += 2 {
		f[extra[i].(string)] = extra[i+1]
	}
	log.WithFields(f).Panic(msg)
}

// terminationLog is read by Kubernetes as the reason of a container failure.
const terminationLog = "/dev/termination-log"
