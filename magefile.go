//go:build mage

package main

import (
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// ======================================
// SETUP
// ======================================

type Setup mg.Namespace

func (Setup) Go() error {
	fmt.Println("Setting up Go environment...")

	// Check Go version
	fmt.Println("Checking Go version... (go version)")
	if err := goVersion(); err != nil {
		return err
	}

	// Install golangci-lint
	if _, err := exec.LookPath("golangci-lint"); err != nil {
		fmt.Println("Installing golangci-lint...")
		if err := sh.RunV("go", "install", "github.com/golangci/golangci-lint/cmd/golangci-lint@latest"); err != nil {
			return err
		}
	}

	fmt.Println("Go environment setup complete.")

	return nil
}

func goVersion() error {
	out, err := exec.Command("go", "version").Output()
	if err != nil {
		return err
	}

	required := struct {
		major int
		minor int
	}{
		major: 1,
		minor: 23,
	}

	re := regexp.MustCompile(`go version go([0-9]+)\.([0-9]+)`)
	matches := re.FindStringSubmatch(string(out))
	if len(matches) <= 2 {
		return fmt.Errorf("failed to parse Go version from: %s", out)
	}

	major, _ := strconv.Atoi(matches[1])
	minor, _ := strconv.Atoi(matches[2])
	fmt.Printf("go version: %d.%d (local) | >= %d.%d (repository)\n", major, minor, required.major, required.minor)
	if major < required.major || (major == required.major && minor < required.minor) {
		return fmt.Errorf("go >= %d.%d required", required.major, required.minor)
	}
	return nil
}

// ======================================
// TESTING
// ======================================

type Test mg.Namespace

// All runs every test with the race detector
func (Test) All() error {
	fmt.Println("Running tests...")
	return sh.RunV("go", "test", "-race", "./...")
}

// Short skips the loopback tests that open UDP sockets
func (Test) Short() error {
	fmt.Println("Running short tests...")
	return sh.RunV("go", "test", "-short", "./...")
}

// Loopback runs the quic-go loopback tests only
func (Test) Loopback() error {
	fmt.Println("Running loopback tests...")
	return sh.RunV("go", "test", "-race", "-run", "Loopback|Endpoint", "./...")
}

// Coverage runs tests with coverage reporting
func (Test) Coverage() error {
	fmt.Println("Running tests with coverage...")
	if err := sh.RunV("go", "test", "-coverprofile=coverage.out", "./..."); err != nil {
		return err
	}
	return sh.RunV("go", "tool", "cover", "-func=coverage.out")
}

// ======================================
// DEVELOPMENT UTILITIES
// ======================================

// Lint runs the linter (golangci-lint)
func Lint() error {
	fmt.Println("Running linter...")
	if _, err := exec.LookPath("golangci-lint"); err != nil {
		return fmt.Errorf("golangci-lint not found. Please install it first:\n  go install github.com/golangci/golangci-lint/cmd/golangci-lint@latest")
	}
	return sh.RunV("golangci-lint", "run")
}

// Vet runs go vet
func Vet() error {
	fmt.Println("Running go vet...")
	return sh.RunV("go", "vet", "./...")
}

// Fmt formats Go source code
func Fmt() error {
	fmt.Println("Formatting go code...")
	return sh.RunV("go", "fmt", "./...")
}

// Build builds the project
func Build() error {
	fmt.Println("Building project...")
	return sh.RunV("go", "build", "./...")
}

// Clean removes generated files
func Clean() error {
	fmt.Println("Cleaning up generated files...")
	if err := sh.Rm("coverage.out"); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Help displays available commands (default target)
func Help() {
	fmt.Println("Available Mage commands:")
	fmt.Println("  mage test:all      - Run all tests with the race detector")
	fmt.Println("  mage test:short    - Run tests without UDP sockets")
	fmt.Println("  mage test:loopback - Run the quic-go loopback tests")
	fmt.Println("  mage test:coverage - Run tests with coverage")
	fmt.Println("  mage lint          - Run golangci-lint")
	fmt.Println("  mage vet           - Run go vet")
	fmt.Println("  mage build         - Build the project")
	fmt.Println("  mage clean         - Clean up generated files")
	fmt.Println("")
	fmt.Println("You can also run 'mage -l' to list all available targets.")
}

// Default target - displays help when no target is specified
var Default = Help
