package export

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"

	"github.com/cgast/vxcore/pkg/session"
)

// JSON writes the whole session record: metadata, config, participant,
// trials and samples.
type JSON struct {
	Dir string
}

func (j *JSON) Format() string { return "json" }

func (j *JSON) Target(rec session.Record) string {
	return filepath.Join(j.Dir, BaseName(rec)+".json")
}

func (j *JSON) Save(ctx context.Context, rec session.Record) error {
	return writeFile(j.Target(rec), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	})
}
