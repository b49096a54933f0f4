package goal_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/stepflow/internal/goal"
	"github.com/slok/stepflow/internal/model"
	"github.com/slok/stepflow/internal/tool"
	"github.com/slok/stepflow/internal/tool/local"
)

func localTools(t *testing.T, dir string) *tool.Registry {
	t.Helper()
	tools, err := local.NewTools(local.ToolsConfig{WorkDir: dir})
	require.NoError(t, err)
	reg := tool.NewRegistry()
	tools.Register(reg)
	return reg
}

func TestValidatorValidate(t *testing.T) {
	tests := map[string]struct {
		files     map[string]string
		dirs      []string
		criterion model.Criterion
		vars      map[string]any
		expGap    bool
		expAction *model.Step
	}{
		"Existing file.": {
			files:     map[string]string{"x": ""},
			criterion: model.Criterion{Type: model.CriterionFileExists, Path: "x"},
		},
		"Missing file should suggest writing it.": {
			criterion: model.Criterion{Type: model.CriterionFileExists, Path: "x"},
			expGap:    true,
			expAction: &model.Step{Tool: "write_file", Params: map[string]any{"path": "x", "content": ""}},
		},
		"A directory is not a missing file.": {
			dirs:      []string{"x"},
			criterion: model.Criterion{Type: model.CriterionFileExists, Path: "x"},
		},
		"An existing file that should not exist should suggest deleting it.": {
			files:     map[string]string{"x": ""},
			criterion: model.Criterion{Type: model.CriterionFileNotExists, Path: "x"},
			expGap:    true,
			expAction: &model.Step{Tool: "delete_file", Params: map[string]any{"path": "x"}},
		},
		"File containing the content.": {
			files:     map[string]string{"x": "a\nhello world\n"},
			criterion: model.Criterion{Type: model.CriterionFileContains, Path: "x", Content: "hello"},
		},
		"File not containing the content should suggest appending it.": {
			files:     map[string]string{"x": "a\n"},
			criterion: model.Criterion{Type: model.CriterionFileContains, Path: "x", Content: "hello"},
			expGap:    true,
			expAction: &model.Step{Tool: "append_file", Params: map[string]any{"path": "x", "content": "hello"}},
		},
		"A file is not a directory.": {
			files:     map[string]string{"d": ""},
			criterion: model.Criterion{Type: model.CriterionDirectoryExists, Path: "d"},
			expGap:    true,
			expAction: &model.Step{Tool: "create_directory", Params: map[string]any{"path": "d"}},
		},
		"Existing directory.": {
			dirs:      []string{"d/e"},
			criterion: model.Criterion{Type: model.CriterionDirectoryExists, Path: "d/e"},
		},
		"Succeeding command.": {
			criterion: model.Criterion{Type: model.CriterionCommandSucceeds, Command: "true"},
		},
		"Failing command has no suggested action.": {
			criterion: model.Criterion{Type: model.CriterionCommandSucceeds, Command: "exit 1"},
			expGap:    true,
		},
		"Command output containing the content.": {
			criterion: model.Criterion{Type: model.CriterionCommandOutputContains, Command: "echo stepflow", Content: "flow"},
		},
		"Command output not containing the content.": {
			criterion: model.Criterion{Type: model.CriterionCommandOutputContains, Command: "echo stepflow", Content: "nope"},
			expGap:    true,
		},
		"Equal variable.": {
			criterion: model.Criterion{Type: model.CriterionVariableEquals, Variable: "out.n", Value: 2},
			vars:      map[string]any{"out": map[string]any{"n": float64(2)}},
		},
		"Different variable.": {
			criterion: model.Criterion{Type: model.CriterionVariableEquals, Variable: "out.n", Value: 3},
			vars:      map[string]any{"out": map[string]any{"n": float64(2)}},
			expGap:    true,
		},
		"Templates in the criterion should be resolved.": {
			files:     map[string]string{"report.txt": "done"},
			criterion: model.Criterion{Type: model.CriterionFileContains, Path: "{{name}}.txt", Content: "done"},
			vars:      map[string]any{"name": "report"},
		},
		"An invalid criterion is a gap.": {
			criterion: model.Criterion{Type: model.CriterionFileExists},
			expGap:    true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			dir := t.TempDir()
			for _, d := range test.dirs {
				require.NoError(os.MkdirAll(filepath.Join(dir, d), 0o755))
			}
			for p, c := range test.files {
				require.NoError(os.WriteFile(filepath.Join(dir, p), []byte(c), 0o644))
			}

			v, err := goal.NewValidator(goal.ValidatorConfig{Tools: localTools(t, dir)})
			require.NoError(err)

			gaps := v.Validate(context.Background(), []model.Criterion{test.criterion}, test.vars)
			if !test.expGap {
				assert.Empty(gaps)
				return
			}
			require.Len(gaps, 1)
			assert.NotEmpty(gaps[0].Reason)
			assert.Equal(test.expAction, gaps[0].SuggestedAction)
		})
	}
}

func TestValidateCriterion(t *testing.T) {
	tests := map[string]struct {
		criterion model.Criterion
		expErr    bool
	}{
		"Valid file criterion.":    {criterion: model.Criterion{Type: model.CriterionFileExists, Path: "/x"}},
		"Valid command criterion.": {criterion: model.Criterion{Type: model.CriterionCommandSucceeds, Command: "true"}},
		"Missing path.":            {criterion: model.Criterion{Type: model.CriterionFileContains, Content: "x"}, expErr: true},
		"Missing command.":         {criterion: model.Criterion{Type: model.CriterionCommandOutputContains}, expErr: true},
		"Missing variable.":        {criterion: model.Criterion{Type: model.CriterionVariableEquals, Value: 1}, expErr: true},
		"Unknown type.":            {criterion: model.Criterion{Type: "magic"}, expErr: true},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			err := goal.ValidateCriterion(test.criterion)
			if test.expErr {
				assert.ErrorIs(t, err, model.ErrNotValid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
