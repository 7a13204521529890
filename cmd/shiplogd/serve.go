package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.shiplog.dev/core/engine"
	mbp "go.shiplog.dev/core/mainboilerplate"
	"go.shiplog.dev/core/shipper"
	"go.shiplog.dev/core/task"
)

type cmdServe struct{}

func (cmdServe) Execute([]string) error {
	defer mbp.InitDiagnosticsAndRecover(Config.Diagnostics)()
	mbp.InitLog(Config.Log)

	log.WithField("config", Config).Info("starting shiplogd")

	var localFs = afero.NewOsFs()
	var dbPath = mustDBPath()
	var dbID = databaseID(dbPath)

	var archivers []shipper.Archiver
	for _, a := range mustArchivers(localFs, dbID) {
		archivers = append(archivers, a)
	}
	if len(archivers) == 0 {
		log.Warn("no stores are configured; files will be published but not shipped")
	}

	var eng, err = engine.Open(context.Background(), engine.Config{
		DBPath:    dbPath,
		DBID:      dbID,
		Seq:       Config.Shiplog.Seq,
		Fs:        localFs,
		Placer:    mustPlacer(),
		Shipper:   shipperConfig(),
		Archivers: archivers,
	})
	mbp.Must(err, "failed to open shiplog engine", "db", Config.Shiplog.DB)

	var tasks = task.NewGroup(context.Background())
	var signalCh = make(chan os.Signal, 1)

	tasks.Queue("watch signals", func() error {
		select {
		case sig := <-signalCh:
			log.WithField("signal", sig).Info("caught signal")
		case <-tasks.Context().Done():
		}
		return eng.Close()
	})

	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)
	tasks.GoRun()

	mbp.Must(tasks.Wait(), "shiplogd task failed")
	log.Info("goodbye")

	return nil
}
