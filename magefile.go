//go:build mage

package main

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	GotestsumUrl    = "gotest.tools/gotestsum"
	GolangciLintUrl = "github.com/golangci/golangci-lint/cmd/golangci-lint"
)

var (
	goexec = mg.GoCmd()
	g0     = sh.RunCmd(goexec)
)

// Build builds the gremlinsh console
func Build() error {
	fmt.Println("Building gremlinsh...")
	return g0("build", "-o", "bin/gremlinsh", "./cmd/gremlinsh")
}

func mustRun(cmd string, args ...string) {
	out := lipgloss.NewStyle().Bold(true).Render(
		fmt.Sprintf("\n> %s %s\n", cmd, strings.Join(args, " ")),
	)

	fmt.Println(out)
	if err := sh.RunV(cmd, args...); err != nil {
		panic(err)
	}
}

func checkTools() error {
	if _, err := exec.LookPath("gotestsum"); err != nil {
		fmt.Println("gotestsum is not installed. Installing...")
		mustRun(goexec, "install", GotestsumUrl)
	}
	if _, err := exec.LookPath("golangci-lint"); err != nil {
		fmt.Println("golangci-lint not found, installing...")
		mustRun(goexec, "install", GolangciLintUrl)
	}
	return nil
}

// Lint runs the linter
func Lint() error {
	mg.Deps(checkTools)
	fmt.Println("Running golangci-lint linter...")
	return sh.RunV("golangci-lint", "run")
}

// Test runs the unit tests with the race detector
func Test() error {
	mg.Deps(checkTools)
	fmt.Println("Running unit tests...")
	return sh.RunV("gotestsum", "-f", "standard-verbose", "--", "-race", "-failfast", "-count", "1", "-timeout", "10m", "./...")
}

// Presubmit is intended to be run by contributors before pushing the code and creating a PR.
func Presubmit() error {
	mg.Deps(Build, Lint)
	return Test()
}

// Run starts gremlinsh against a Gremlin server on localhost
func Run() error {
	return g0("run", "./cmd/gremlinsh", "--endpoint", "ws://localhost:8182/gremlin")
}
