package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"text/template"
	"time"

	"github.com/dagu-org/rangeload/internal/core"
	sprig "github.com/go-task/slim-sprig/v3"
)

// PathData is the data a path template is executed with.
type PathData struct {
	// Date is the instance parameter value, e.g. "2015-01-02".
	Date     string
	Time     time.Time
	End      time.Time
	Family   string
	Identity string
	Params   map[string]string
}

// FileSource reads one file per instance. The path is a text/template
// with the slim-sprig function map, e.g.
// "/data/{{ .Time.Format \"2006/01/02\" }}/orders.csv".
type FileSource struct {
	path    *template.Template
	format  string
	options InputOptions
}

// NewFileSource parses pathTemplate. An empty format is detected from the
// template's file extension.
func NewFileSource(pathTemplate, format string, opts InputOptions) (*FileSource, error) {
	tmpl, err := template.New("path").Funcs(sprig.TxtFuncMap()).Option("missingkey=error").Parse(pathTemplate)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid path template: %w", core.ErrInvalidConfig, err)
	}
	if format == "" {
		format = DetectFormat(pathTemplate)
	}
	if _, err := NewInputReader(bytes.NewReader(nil), format, opts); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidConfig, err)
	}
	return &FileSource{path: tmpl, format: format, options: opts}, nil
}

// Path renders the file path for inst.
func (s *FileSource) Path(inst core.Instance) (string, error) {
	var buf bytes.Buffer
	data := PathData{
		Date:     inst.Value,
		Time:     inst.Time,
		End:      inst.End(),
		Family:   inst.Family,
		Identity: inst.Identity.String(),
		Params:   inst.Params,
	}
	if err := s.path.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: failed to render path: %w", core.ErrSource, err)
	}
	return buf.String(), nil
}

// Open opens the instance's file. A missing file is a source error.
func (s *FileSource) Open(_ context.Context, inst core.Instance) (RowReader, error) {
	path, err := s.Path(inst)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path) //nolint:gosec // path is operator configured
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: input file %s does not exist", core.ErrSource, path)
		}
		return nil, wrap(err)
	}
	reader, err := NewInputReader(f, s.format, s.options)
	if err != nil {
		_ = f.Close()
		return nil, wrap(err)
	}
	return &fileReader{RowReader: WithSourceErrors(reader), file: f}, nil
}

type fileReader struct {
	RowReader
	file *os.File
}

func (r *fileReader) Close() error {
	return errors.Join(r.RowReader.Close(), r.file.Close())
}
