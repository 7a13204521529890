package main

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"go.shiplog.dev/core/codecs"
	mbp "go.shiplog.dev/core/mainboilerplate"
	"go.shiplog.dev/core/record"
)

type cmdReplay struct {
	Format string `long:"format" short:"o" default:"table" choice:"table" choice:"json" description:"Output format"`
}

func (cmd *cmdReplay) Execute(args []string) error {
	mbp.InitLog(Config.Log)

	if len(args) == 0 {
		return errors.New("expected at least one file to replay")
	}

	var table = tablewriter.NewWriter(os.Stdout)
	table.Header("File", "Commit", "Statement", "Args")
	var enc = json.NewEncoder(os.Stdout)

	for _, path := range args {
		var err = replayFile(path, func(c record.Command) error {
			if c.Args == nil {
				c.Args = []interface{}{}
			}
			var argsJSON, err = json.Marshal(c.Args)
			if err != nil {
				return err
			}
			if cmd.Format == "json" {
				return enc.Encode(struct {
					File     string          `json:"file"`
					CommitID int64           `json:"cid"`
					SQL      string          `json:"sql"`
					Args     json.RawMessage `json:"args"`
				}{path, c.CommitID, c.Statement(), argsJSON})
			}
			return table.Append([]string{
				path,
				strconv.FormatInt(c.CommitID, 10),
				c.Statement(),
				string(argsJSON),
			})
		})
		mbp.Must(err, "failed to replay file", "path", path)
	}
	if cmd.Format == "table" {
		mbp.Must(table.Render(), "failed to render table")
	}
	return nil
}

// replayFile decodes the Commands of a possibly compressed transaction file.
func replayFile(path string, fn func(record.Command) error) error {
	var f, err = os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := codecs.NewCodecReader(f, codecs.FromPath(path))
	if err != nil {
		return err
	}
	defer dec.Close()

	return errors.WithMessage(record.Replay(dec, fn), path)
}
