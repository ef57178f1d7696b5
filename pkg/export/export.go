package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/integrail/persona-lab/pkg/agency"
)

type Format string

const (
	FormatMarkdown Format = "md"
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
)

var Formats = []Format{FormatMarkdown, FormatJSON, FormatCSV}

// FileName returns the download name of the given format, stamped with the analysis time.
func FileName(format Format, analysis *agency.Analysis) string {
	ts := analysis.Timestamp.Unix()
	switch format {
	case FormatJSON:
		return fmt.Sprintf("creative_agency_analysis_%d.json", ts)
	case FormatCSV:
		return fmt.Sprintf("persona_reactions_%d.csv", ts)
	default:
		return fmt.Sprintf("creative_agency_report_%d.md", ts)
	}
}

func Markdown(w io.Writer, analysis *agency.Analysis) error {
	_, err := io.WriteString(w, analysis.Report)
	return errors.Wrapf(err, "failed to write report")
}

type document struct {
	ID          string                            `json:"id"`
	Timestamp   string                            `json:"timestamp"`
	Model       string                            `json:"model"`
	Personas    []string                          `json:"personas"`
	Reactions   []string                          `json:"persona_reactions"`
	RoleOutputs map[agency.Role]agency.RoleOutput `json:"role_outputs"`
	Report      string                            `json:"final_report"`
	Failures    []agency.StepFailure              `json:"failures"`
}

func JSON(w io.Writer, analysis *agency.Analysis) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	err := enc.Encode(document{
		ID:          analysis.ID,
		Timestamp:   analysis.Timestamp.Format("2006-01-02 15:04:05"),
		Model:       analysis.Model,
		Personas:    analysis.Personas,
		Reactions:   analysis.Reactions,
		RoleOutputs: analysis.RoleOutputs,
		Report:      analysis.Report,
		Failures:    lo.Ternary(analysis.Failures != nil, analysis.Failures, []agency.StepFailure{}),
	})
	return errors.Wrapf(err, "failed to encode analysis")
}

// CSV writes one Persona,Reaction row per persona with every field quoted.
func CSV(w io.Writer, analysis *agency.Analysis) error {
	if _, err := io.WriteString(w, "Persona,Reaction\n"); err != nil {
		return errors.Wrapf(err, "failed to write csv header")
	}
	for i, persona := range analysis.Personas {
		reaction := ""
		if i < len(analysis.Reactions) {
			reaction = analysis.Reactions[i]
		}
		if _, err := fmt.Fprintf(w, "%s,%s\n", quote(persona), quote(reaction)); err != nil {
			return errors.Wrapf(err, "failed to write csv row %d", i+1)
		}
	}
	return nil
}

func quote(field string) string {
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}

// Write renders the analysis in the given format.
func Write(w io.Writer, format Format, analysis *agency.Analysis) error {
	switch format {
	case FormatMarkdown:
		return Markdown(w, analysis)
	case FormatJSON:
		return JSON(w, analysis)
	case FormatCSV:
		return CSV(w, analysis)
	default:
		return errors.Errorf("unsupported export format %q", format)
	}
}

// WriteAll writes every format into dir and returns the written paths in Formats order.
func WriteAll(dir string, analysis *agency.Analysis) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create %s", dir)
	}
	var paths []string
	for _, format := range Formats {
		path := filepath.Join(dir, FileName(format, analysis))
		if err := writeFile(path, format, analysis); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeFile(path string, format Format, analysis *agency.Analysis) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	if err := Write(f, format, analysis); err != nil {
		_ = f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "failed to close %s", path)
}
