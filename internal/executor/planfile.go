package executor

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
)

// PlanFile is a fixed plan stored on disk.
type PlanFile struct {
	Name        string                  `yaml:"name"`
	Description string                  `yaml:"description"`
	Steps       []orchestrator.PlanStep `yaml:"steps"`
}

// PlanFileLoader loads a PlanFile from a path.
type PlanFileLoader interface {
	Load(path string) (*PlanFile, error)
	Format() string // e.g., "yaml"
}

var loaderRegistry = map[string]PlanFileLoader{}

// RegisterPlanFileLoader registers a loader under its format name.
func RegisterPlanFileLoader(loader PlanFileLoader) {
	loaderRegistry[loader.Format()] = loader
}

// GetPlanFileLoader retrieves a loader by format name.
func GetPlanFileLoader(format string) (PlanFileLoader, bool) {
	loader, ok := loaderRegistry[format]
	return loader, ok
}

// YAMLLoader implements PlanFileLoader for YAML files.
type YAMLLoader struct{}

func (YAMLLoader) Load(path string) (*PlanFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open plan file")
	}
	defer f.Close()

	var pf PlanFile
	if err := yaml.NewDecoder(f).Decode(&pf); err != nil {
		return nil, errors.Wrapf(err, "failed to parse plan file %s", path)
	}
	for i := range pf.Steps {
		pf.Steps[i].ArgsHint = rewriteReferences(pf.Steps[i].ArgsHint)
	}
	return &pf, nil
}

func (YAMLLoader) Format() string { return "yaml" }

func init() {
	RegisterPlanFileLoader(YAMLLoader{})
}

// rewriteReferences turns "$<step>.output" hint values into the
// "${<step>_OUTPUT}" placeholders argument synthesis interpolates.
func rewriteReferences(hint map[string]any) map[string]any {
	for k, v := range hint {
		s, ok := v.(string)
		if !ok || !strings.HasPrefix(s, "$") || strings.HasPrefix(s, "${") {
			continue
		}
		if id, found := strings.CutSuffix(strings.TrimPrefix(s, "$"), ".output"); found && id != "" {
			hint[k] = "${" + id + "_OUTPUT}"
		}
	}
	return hint
}

// Validate checks the plan file for empty plans, malformed tool keys,
// duplicate ids, missing dependencies and cycles.
func (pf *PlanFile) Validate() error {
	if len(pf.Steps) == 0 {
		return errors.New("plan file has no steps")
	}
	for _, s := range pf.Steps {
		if _, _, ok := orchestrator.SplitToolKey(s.ToolKey); !ok {
			return errors.Newf("step '%s' has malformed tool key %q", s.ID, s.ToolKey)
		}
	}
	return pf.Plan().Validate()
}

// Plan converts the file into a plan. Missing intents default to the tool
// key.
func (pf *PlanFile) Plan() *orchestrator.Plan {
	plan := &orchestrator.Plan{Steps: make([]orchestrator.PlanStep, len(pf.Steps))}
	for i, s := range pf.Steps {
		if s.Intent == "" {
			s.Intent = "Run " + s.ToolKey
		}
		plan.Steps[i] = s
	}
	return plan
}

// LoadPlanFile loads the plan file at path with the loader registered for
// its extension (YAML when unknown), validates it and returns the plan.
func LoadPlanFile(path string) (*orchestrator.Plan, error) {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if format == "yml" {
		format = "yaml"
	}
	loader, ok := GetPlanFileLoader(format)
	if !ok {
		loader, ok = GetPlanFileLoader("yaml")
		if !ok {
			return nil, errors.New("no YAML plan loader registered")
		}
	}
	pf, err := loader.Load(path)
	if err != nil {
		return nil, err
	}
	if err := pf.Validate(); err != nil {
		return nil, orchestrator.NewValidationError("plan_file", "invalid plan file "+path, err)
	}
	return pf.Plan(), nil
}
