package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"

	"go.viam.com/sfm/slam/sba"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sba.json")
	test.That(t, os.WriteFile(path, []byte(contents), 0o600), test.ShouldBeNil)
	return path
}

func TestReadWithEnvironment(t *testing.T) {
	t.Setenv("SBA_TEST_WORKERS", "4")
	path := writeConfig(t, `{
		"solver": {"initial_lambda": 0.01, "workers": "${SBA_TEST_WORKERS}"},
		"termination": {"max_iterations": 12}
	}`)

	cfg, err := Read(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Termination.MaxIterations, test.ShouldEqual, 12)
	test.That(t, cfg.Termination.CostDelta, test.ShouldEqual, DefaultCostDelta)

	solver, err := ReadSolverConfig(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, solver.Workers, test.ShouldEqual, 4)
	test.That(t, solver.InitialLambda, test.ShouldEqual, 0.01)
	test.That(t, solver.MaxLambda, test.ShouldEqual, sba.DefaultMaxLambda)

	criteria := cfg.Criteria()
	test.That(t, criteria.Finished(1, 12), test.ShouldBeTrue)
	test.That(t, criteria.Finished(1, 11), test.ShouldBeFalse)
}

func TestReadDefaults(t *testing.T) {
	cfg, err := FromReader("inline", strings.NewReader(`{}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Termination.MaxIterations, test.ShouldEqual, DefaultMaxIterations)

	solver, err := cfg.SolverConfig()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, solver, test.ShouldResemble, sba.NewDefaultConfig())
}

func TestReadErrors(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = FromReader("bad", strings.NewReader(`{"solver": `))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "cannot parse config")

	_, err = FromReader("unknown", strings.NewReader(`{"solvers": {}}`))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = FromReader("lambda", strings.NewReader(`{"solver": {"lambda_increase": 0.5}}`))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "lambda.solver")

	_, err = FromReader("attr", strings.NewReader(`{"solver": {"no_such_field": 1}}`))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = FromReader("iterations", strings.NewReader(`{"termination": {"max_iterations": -1}}`))
	test.That(t, err, test.ShouldNotBeNil)
}
