package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	intstepflow "github.com/slok/stepflow/test/integration/stepflow"
)

const testImage = "alpine:3.20"

// taskOutput matches the task JSON printed by `stepflow run --format json` as its last document.
type taskOutput struct {
	ID      string `json:"id"`
	State   string `json:"state"`
	Results []struct {
		Status    string `json:"status"`
		Result    any    `json:"result"`
		Error     string `json:"error"`
		ErrorType string `json:"errorType"`
	} `json:"results"`
}

// lastTask decodes the JSON stream and returns the task document.
func lastTask(t *testing.T, data []byte) taskOutput {
	t.Helper()

	var out taskOutput
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var doc map[string]json.RawMessage
		require.NoError(t, dec.Decode(&doc))
		if _, ok := doc["results"]; !ok {
			continue
		}
		b, err := json.Marshal(doc)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(b, &out))
	}
	return out
}

func TestDockerRunCommand(t *testing.T) {
	if os.Getenv("STEPFLOW_INTEGRATION_DOCKER") != "true" {
		t.Skip("Skipping Docker integration test: STEPFLOW_INTEGRATION_DOCKER is not set to 'true'")
	}
	config := intstepflow.NewConfig(t)
	docker := newDockerHelper(t)

	tests := map[string]struct {
		stopContainer bool
		expState      string
		expErrorType  string
	}{
		"Commands should run inside the container.": {
			expState: "SUCCESS",
		},
		"Commands on a stopped container should fail as not valid.": {
			stopContainer: true,
			expState:      "FAILED",
			expErrorType:  "not_valid",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			containerName := fmt.Sprintf("stepflow-it-%d", time.Now().UnixNano())
			docker.startContainer(t, testImage, containerName)
			if test.stopContainer {
				docker.stopContainer(t, containerName)
			}

			env := intstepflow.NewEnv(t)
			taskFile := env.WriteFile(t, "task.yaml", `
steps:
  - tool: run_command
    params: {command: "cat /etc/alpine-release"}
`)

			stdout, _, _ := intstepflow.RunCmd(context.Background(), config, env,
				"run", taskFile, "--docker-container", containerName, "--format", "json")

			task := lastTask(t, stdout)
			require.Len(task.Results, 1)
			assert.Equal(test.expState, task.State)
			assert.Equal(test.expErrorType, task.Results[0].ErrorType)
			if test.expState == "SUCCESS" {
				assert.Contains(task.Results[0].Result, "3.20")
			}
		})
	}
}
