package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mwaller/cellpipe/cmd/cellpipe/internal/clierr"
	"github.com/mwaller/cellpipe/internal/report"
	"github.com/mwaller/cellpipe/internal/serialize"
)

// writeRunCSV writes a minimal valid cycler file with the given number of
// full charge/discharge cycles.
func writeRunCSV(t *testing.T, path string, cycles int) {
	t.Helper()
	var b strings.Builder
	b.WriteString("cycle_index,test_time,current,voltage,charge_capacity,discharge_capacity\n")
	tt := 0.0
	for ci := 1; ci <= cycles; ci++ {
		fade := 1.0 - 0.01*float64(ci)
		for i := 0; i < 10; i++ {
			frac := float64(i) / 9
			tt += 10
			fmt.Fprintf(&b, "%d,%.1f,1.5,%.4f,%.4f,0\n", ci, tt, 3.0+1.2*frac, fade*frac)
		}
		for i := 0; i < 10; i++ {
			frac := float64(i) / 9
			tt += 10
			fmt.Fprintf(&b, "%d,%.1f,-1.5,%.4f,0,%.4f\n", ci, tt, 4.2-1.2*frac, fade*frac)
		}
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCmd()
	out := bytes.NewBufferString("")
	errOut := bytes.NewBufferString("")
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestStructureCommand(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "cell_a.csv")
	writeRunCSV(t, input, 3)
	status := filepath.Join(dir, "status.json")

	stdout, _, err := execute(t,
		"structure", input,
		"--output-dir", dir,
		"--resolution", "20",
		"--output-status-json", status,
		"--run-id", "run-7",
		"--tags", "proj-x",
	)
	if err != nil {
		t.Fatalf("structure failed: %v", err)
	}
	if !strings.Contains(stdout, "all steps succeeded:  1") {
		t.Errorf("unexpected summary output: %q", stdout)
	}

	structured := filepath.Join(dir, "cell_a-structured.json.gz")
	if _, err := os.Stat(structured); err != nil {
		t.Fatalf("structured output missing: %v", err)
	}

	var rep report.RunReport
	if err := serialize.ReadInto(status, &rep); err != nil {
		t.Fatalf("reading status report: %v", err)
	}
	if len(rep.Files) != 1 || len(rep.Files[0].Outcomes) != 1 {
		t.Fatalf("unexpected report shape: %+v", rep)
	}
	oc := rep.Files[0].Outcomes[0]
	if oc.Status != report.StatusSucceeded || oc.Output != structured {
		t.Errorf("unexpected outcome: %+v", oc)
	}
	if rep.Metadata == nil || rep.Metadata.RunID != "run-7" || rep.Metadata.InvocationID == "" {
		t.Errorf("unexpected metadata: %+v", rep.Metadata)
	}
}

func TestStructureCommandValidationOnly(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "cell_b.csv")
	writeRunCSV(t, input, 2)
	status := filepath.Join(dir, "status.json")

	_, _, err := execute(t,
		"structure", input,
		"--output-dir", dir,
		"--validation-only",
		"--output-status-json", status,
	)
	if err != nil {
		t.Fatalf("structure failed: %v", err)
	}

	var rep report.RunReport
	if err := serialize.ReadInto(status, &rep); err != nil {
		t.Fatal(err)
	}
	if got := rep.Files[0].Outcomes[0].Status; got != report.StatusSkipped {
		t.Errorf("expected skipped outcome in validation-only mode, got %s", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "cell_b-structured.json.gz")); !os.IsNotExist(err) {
		t.Errorf("validation-only run must not write outputs")
	}
}

func TestStructureCommandMissingFile(t *testing.T) {
	_, _, err := execute(t, "structure", filepath.Join(t.TempDir(), "absent.csv"))
	if err == nil {
		t.Fatal("expected an error for a missing input")
	}
	if code := clierr.ExitCodeOf(err); code != clierr.CodeUsage {
		t.Errorf("expected exit code %d, got %d (%v)", clierr.CodeUsage, code, err)
	}
}

func TestFeaturizeCommand(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "cell_c.csv")
	writeRunCSV(t, input, 4)

	if _, _, err := execute(t, "structure", input, "--output-dir", dir, "--resolution", "20"); err != nil {
		t.Fatalf("structure failed: %v", err)
	}
	structured := filepath.Join(dir, "cell_c-structured.json.gz")

	_, _, err := execute(t,
		"featurize", structured,
		"--output-dir", dir,
		"-f", "CycleSummaryStats",
		"-H", "CycleSummaryStats: {cycle_comp_num: [1, 3]}",
	)
	if err != nil {
		t.Fatalf("featurize failed: %v", err)
	}

	out := filepath.Join(dir, "CycleSummaryStats-cell_c-structured.json.gz")
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("feature output missing: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("feature output is empty")
	}
}

func TestFeaturizeConflictingParams(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "cell_d.csv")
	writeRunCSV(t, input, 2)

	_, _, err := execute(t,
		"featurize", input,
		"-H", "CycleSummaryStats: {cycle_comp_num: [1, 2]}",
		"-H", "CycleSummaryStats: {cycle_comp_num: [1, 3]}",
	)
	if err == nil {
		t.Fatal("expected conflicting configurations to fail")
	}
	if code := clierr.ExitCodeOf(err); code != clierr.CodeUsage {
		t.Errorf("expected exit code %d, got %d (%v)", clierr.CodeUsage, code, err)
	}
}

func TestFeaturizeBadOverrideShape(t *testing.T) {
	_, _, err := execute(t, "featurize", "whatever.json.gz", "-H", "a: {}\nb: {}")
	if err == nil {
		t.Fatal("expected multi-key override mapping to fail")
	}
	if code := clierr.ExitCodeOf(err); code != clierr.CodeUsage {
		t.Errorf("expected exit code %d, got %d", clierr.CodeUsage, code)
	}
}

func TestStepsCommandJSON(t *testing.T) {
	stdout, _, err := execute(t, "steps", "--json")
	if err != nil {
		t.Fatalf("steps failed: %v", err)
	}

	var payload struct {
		Steps []stepInfo `json:"steps"`
	}
	if err := json.Unmarshal([]byte(stdout), &payload); err != nil {
		t.Fatalf("parsing steps output: %v", err)
	}
	if len(payload.Steps) != 9 {
		t.Fatalf("expected 9 steps, got %d", len(payload.Steps))
	}
	if payload.Steps[0].Name != "structure" {
		t.Errorf("expected the structuring step first, got %q", payload.Steps[0].Name)
	}
	core := 0
	for _, s := range payload.Steps {
		if s.Command == "featurize" && s.Core {
			core++
		}
	}
	if core != 6 {
		t.Errorf("expected 6 core featurizers, got %d", core)
	}
}
