package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/afero"
	mbp "go.shiplog.dev/core/mainboilerplate"
	"go.shiplog.dev/core/placement"
	"go.shiplog.dev/core/shipper"
)

type cmdStatus struct{}

func (cmdStatus) Execute([]string) error {
	mbp.InitLog(Config.Log)

	var localFs = afero.NewOsFs()
	var dbPath = mustDBPath()
	var dbID = databaseID(dbPath)
	var placer = mustPlacer()

	var files, err = shipper.List(localFs, placer, dbPath, dbID)
	mbp.Must(err, "failed to list published files")
	var archivers = mustArchivers(localFs, dbID)

	var table = tablewriter.NewWriter(os.Stdout)
	var headers = []interface{}{"Segment", "Commit", "File", "Size"}
	for i := range archivers {
		headers = append(headers, fmt.Sprintf("Store %d", i))
	}
	table.Header(headers...)

	var total int64
	for _, f := range files {
		var row = []string{
			strconv.FormatInt(f.Seq, 10),
			strconv.FormatInt(f.CommitID, 10),
			f.Name(),
			humanize.IBytes(uint64(f.Size)),
		}
		for _, a := range archivers {
			var ok, err = a.Store.Exists(context.Background(), a.RemotePath(f.Name()))
			switch {
			case err != nil:
				row = append(row, "error: "+err.Error())
			case ok:
				row = append(row, "shipped")
			default:
				row = append(row, "pending")
			}
		}
		mbp.Must(table.Append(row), "failed to append table row")
		total += f.Size
	}
	mbp.Must(table.Render(), "failed to render table")

	var stages, quarantined = countFiles(localFs, placement.StageDirPath(placer, dbPath)),
		countFiles(localFs, placement.QuarantineDirPath(placer, dbPath))
	fmt.Printf("%d published files (%s) awaiting cleanup; %d staging files; %d quarantined.\n",
		len(files), humanize.IBytes(uint64(total)), stages, quarantined)

	return nil
}

func countFiles(fs afero.Fs, dir string) (n int) {
	var infos, _ = afero.ReadDir(fs, dir)
	for _, info := range infos {
		if !info.IsDir() {
			n++
		}
	}
	return n
}
