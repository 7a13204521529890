package record

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/pkg/errors"
)

// Encoder frames Commands of a single transaction as JSON lines.
// A Command having the same statement as its predecessor is written
// without its SQL text.
type Encoder struct {
	bw      *bufio.Writer
	prevSQL *string
}

// NewEncoder returns an Encoder which writes to |w|.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{bw: bufio.NewWriter(w)}
}

// Encode a Command. The encoding may be buffered until Flush. A Command
// which fails to encode leaves the Encoder unchanged.
func (e *Encoder) Encode(cmd *Command) error {
	var frame = wireCommand{
		DBPath:   cmd.DBPath,
		CommitID: cmd.CommitID,
		SQL:      cmd.SQL,
	}
	if cmd.SQL == nil && e.prevSQL == nil {
		return &ValidationError{CommitID: cmd.CommitID, Err: ErrMissingStatement}
	} else if cmd.SQL != nil && e.prevSQL != nil && *cmd.SQL == *e.prevSQL {
		frame.SQL = nil // Repeats the prior statement.
	}

	for _, a := range cmd.Args {
		var v, err = encodeValue(a)
		if err != nil {
			return &ValidationError{CommitID: cmd.CommitID, SQL: cmd.Statement(), Err: err}
		}
		frame.Args = append(frame.Args, v)
	}

	var b, err = json.Marshal(frame)
	if err != nil {
		return &ValidationError{CommitID: cmd.CommitID, SQL: cmd.Statement(), Err: err}
	}
	if _, err = e.bw.Write(b); err == nil {
		err = e.bw.WriteByte('\n')
	}
	if err == nil && frame.SQL != nil {
		// Retain a copy: the caller may reuse the string's storage.
		var sql = *frame.SQL
		e.prevSQL = &sql
	}
	return err
}

// Flush buffered encodings to the underlying Writer.
func (e *Encoder) Flush() error { return e.bw.Flush() }

// Decoder reads JSON-framed Commands, as written by Encoder.
// Decoded Commands retain a nil SQL where it was elided.
type Decoder struct {
	br *bufio.Reader
}

// NewDecoder returns a Decoder which reads from |r|.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{br: bufio.NewReader(r)}
}

// Decode the next Command, returning io.EOF at a clean end of input.
func (d *Decoder) Decode() (*Command, error) {
	var line, err = unpackLine(d.br)
	if err != nil {
		return nil, err
	}

	var frame wireCommand
	var dec = json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	if err = dec.Decode(&frame); err != nil {
		return nil, errors.WithMessage(err, "decoding command")
	}
	var cmd = &Command{
		DBPath:   frame.DBPath,
		CommitID: frame.CommitID,
		SQL:      frame.SQL,
	}
	for _, v := range frame.Args {
		if a, err := v.decode(); err != nil {
			return nil, errors.WithMessage(err, "decoding argument")
		} else {
			cmd.Args = append(cmd.Args, a)
		}
	}
	return cmd, nil
}

// Replay Commands decoded from |r| to |fn|, in order. Elided statements are
// restored from the preceding Command. A leading Command having no statement
// is rejected with a ValidationError.
func Replay(r io.Reader, fn func(Command) error) error {
	var dec = NewDecoder(r)
	var prev *string

	for {
		var cmd, err = dec.Decode()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}

		if cmd.SQL == nil {
			if prev == nil {
				return &ValidationError{CommitID: cmd.CommitID, Err: ErrMissingStatement}
			}
			cmd.SQL = prev
		}
		prev = cmd.SQL

		if err = fn(*cmd); err != nil {
			return err
		}
	}
}

// unpackLine returns bytes through to the first encountered newline "\n".
// If the complete line is in the Reader buffer, no copy or allocation is made.
func unpackLine(r *bufio.Reader) ([]byte, error) {
	var line, err = r.ReadSlice('\n')

	if err == bufio.ErrBufferFull {
		// Slow path: the line spills across multiple buffer fills.
		line = append([]byte(nil), line...)
		var rest []byte

		if rest, err = r.ReadBytes('\n'); err == nil {
			line = append(line, rest...)
		}
	}
	if err == io.EOF && len(line) != 0 {
		// A partial trailing line is a torn write.
		err = io.ErrUnexpectedEOF
	}
	return line, err
}

type wireCommand struct {
	DBPath   string      `json:"db"`
	CommitID int64       `json:"cid"`
	SQL      *string     `json:"sql,omitempty"`
	Args     []wireValue `json:"args,omitempty"`
}

// wireValue is a tagged representation of a bound SQL argument which
// round-trips the driver value types without loss.
type wireValue struct {
	Null  bool         `json:"n,omitempty"`
	Int   *json.Number `json:"i,omitempty"`
	Float *float64     `json:"f,omitempty"`
	Bool  *bool        `json:"b,omitempty"`
	Text  *string      `json:"s,omitempty"`
	Blob  *string      `json:"x,omitempty"`
	Time  *time.Time   `json:"t,omitempty"`
}

func encodeValue(a interface{}) (wireValue, error) {
	var n = func(i int64) *json.Number { var n = json.Number(fmt.Sprint(i)); return &n }

	switch v := a.(type) {
	case nil:
		return wireValue{Null: true}, nil
	case int:
		return wireValue{Int: n(int64(v))}, nil
	case int32:
		return wireValue{Int: n(int64(v))}, nil
	case int64:
		return wireValue{Int: n(v)}, nil
	case uint32:
		return wireValue{Int: n(int64(v))}, nil
	case float32:
		return encodeValue(float64(v))
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return wireValue{}, fmt.Errorf("unsupported float argument %v", v)
		}
		return wireValue{Float: &v}, nil
	case bool:
		return wireValue{Bool: &v}, nil
	case string:
		return wireValue{Text: &v}, nil
	case []byte:
		var s = base64.StdEncoding.EncodeToString(v)
		return wireValue{Blob: &s}, nil
	case time.Time:
		return wireValue{Time: &v}, nil
	default:
		return wireValue{}, fmt.Errorf("unsupported argument type %T", a)
	}
}

func (v wireValue) decode() (interface{}, error) {
	switch {
	case v.Null:
		return nil, nil
	case v.Int != nil:
		return v.Int.Int64()
	case v.Float != nil:
		return *v.Float, nil
	case v.Bool != nil:
		return *v.Bool, nil
	case v.Text != nil:
		return *v.Text, nil
	case v.Blob != nil:
		return base64.StdEncoding.DecodeString(*v.Blob)
	case v.Time != nil:
		return *v.Time, nil
	default:
		return nil, errors.New("empty argument value")
	}
}
